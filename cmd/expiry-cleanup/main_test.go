package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/providers"
	"github.com/upb/classifier-control-plane/services/training"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubCleaner struct {
	result *training.CleanupResult
	err    error
}

func (s stubCleaner) CleanupExpired(context.Context) (*training.CleanupResult, error) {
	return s.result, s.err
}

func TestRunCleanup(t *testing.T) {
	t.Run("partial failures still succeed", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		cleaner := stubCleaner{result: &training.CleanupResult{Expired: 3, Deleted: 2, Errors: 1}}

		code := runCleanup(context.Background(), cleaner, zap.New(core))

		assert.Equal(t, 0, code)
		entries := logs.FilterMessage("expired classifiers cleaned up").All()
		if assert.Len(t, entries, 1) {
			fields := entries[0].ContextMap()
			assert.Equal(t, int64(3), fields["expired"])
			assert.Equal(t, int64(2), fields["deleted"])
			assert.Equal(t, int64(1), fields["errors"])
		}
	})

	t.Run("nothing expired", func(t *testing.T) {
		code := runCleanup(context.Background(), stubCleaner{result: &training.CleanupResult{}}, zap.NewNop())
		assert.Equal(t, 0, code)
	})

	t.Run("listing failure exits non-zero", func(t *testing.T) {
		code := runCleanup(context.Background(), stubCleaner{err: errors.New("connection refused")}, zap.NewNop())
		assert.Equal(t, 1, code)
	})
}

// countingBackend answers every delete with success
type countingBackend struct {
	deletes atomic.Int32
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) CreateClassifier(context.Context, *models.Credentials, *providers.CreateClassifierRequest) (*providers.ClassifierInfo, error) {
	return nil, errors.New("not supported")
}

func (b *countingBackend) GetClassifier(context.Context, *models.Credentials, string) (*providers.ClassifierInfo, error) {
	return nil, errors.New("not supported")
}

func (b *countingBackend) DeleteClassifier(context.Context, *models.Credentials, string) error {
	b.deletes.Add(1)
	return nil
}

// deletingCleaner removes one classifier remotely and schedules its second delete
type deletingCleaner struct {
	backend   *countingBackend
	redeleter *training.Redeleter
}

func (c deletingCleaner) CleanupExpired(ctx context.Context) (*training.CleanupResult, error) {
	creds := &models.Credentials{ID: "c1"}
	if err := c.backend.DeleteClassifier(ctx, creds, "old"); err != nil {
		return nil, err
	}
	c.redeleter.Schedule(creds, "old")
	return &training.CleanupResult{Expired: 1, Deleted: 1}, nil
}

func newBatch(delay time.Duration) (*countingBackend, *training.Redeleter) {
	backend := &countingBackend{}
	cfg := config.VisualRecognitionConfig{RedeleteDelay: delay, ReadTimeout: time.Second}
	return backend, training.NewRedeleter(cfg, backend, notify.Nop{}, zap.NewNop())
}

func TestWaitForRedeletes(t *testing.T) {
	t.Run("second delete is sent before exit", func(t *testing.T) {
		backend, redeleter := newBatch(20 * time.Millisecond)

		code := runCleanup(context.Background(), deletingCleaner{backend, redeleter}, zap.NewNop())
		require.Equal(t, 0, code)
		require.Equal(t, int32(1), backend.deletes.Load())

		waitForRedeletes(context.Background(), redeleter, time.Second, zap.NewNop())

		assert.Equal(t, int32(2), backend.deletes.Load())
		assert.Zero(t, redeleter.Pending())
	})

	t.Run("wait limit leaves the rest to close", func(t *testing.T) {
		backend, redeleter := newBatch(time.Hour)
		core, logs := observer.New(zap.InfoLevel)

		runCleanup(context.Background(), deletingCleaner{backend, redeleter}, zap.NewNop())
		waitForRedeletes(context.Background(), redeleter, 10*time.Millisecond, zap.New(core))

		assert.Equal(t, 1, redeleter.Pending())
		assert.Len(t, logs.FilterMessage("stopped waiting for delayed classifier deletes").All(), 1)

		require.NoError(t, redeleter.Flush(context.Background()))
		assert.Equal(t, int32(2), backend.deletes.Load())
		assert.Zero(t, redeleter.Pending())
	})

	t.Run("nothing pending", func(t *testing.T) {
		_, redeleter := newBatch(time.Hour)
		core, logs := observer.New(zap.InfoLevel)

		waitForRedeletes(context.Background(), redeleter, time.Second, zap.New(core))

		assert.Zero(t, logs.Len())
	})
}
