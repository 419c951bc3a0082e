package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const flushConcurrency = 4

// Redeleter repeats a classifier deletion after a delay. The backend sometimes
// reports success for a delete that does not take effect.
type Redeleter struct {
	delay    time.Duration
	timeout  time.Duration
	backend  providers.Backend
	notifier notify.Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingDelete
	stopped bool
}

// pendingDelete is one scheduled delete. done closes once the delete has run
// or has been replaced.
type pendingDelete struct {
	creds *models.Credentials
	timer *time.Timer
	done  chan struct{}
}

// NewRedeleter creates a redeleter using the configured delay
func NewRedeleter(cfg config.VisualRecognitionConfig, backend providers.Backend, notifier notify.Notifier, logger *zap.Logger) *Redeleter {
	delay := cfg.RedeleteDelay
	if delay <= 0 {
		delay = 15 * time.Minute
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Redeleter{
		delay:    delay,
		timeout:  timeout,
		backend:  backend,
		notifier: notifier,
		logger:   logger,
		pending:  make(map[string]*pendingDelete),
	}
}

// Schedule arranges a second delete of the classifier. Scheduling the same
// classifier again replaces the pending attempt. After Flush it does nothing.
func (r *Redeleter) Schedule(creds *models.Credentials, classifierID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if prev, ok := r.pending[classifierID]; ok && prev.timer.Stop() {
		close(prev.done)
	}

	p := &pendingDelete{creds: creds, done: make(chan struct{})}
	p.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		current := r.pending[classifierID] == p
		r.mu.Unlock()
		if current {
			r.redelete(context.Background(), creds, classifierID)
		}
		r.finish(classifierID, p)
	})
	r.pending[classifierID] = p
}

// Pending returns the number of scheduled or running deletes
func (r *Redeleter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Wait blocks until every scheduled delete has run, or ctx is done
func (r *Redeleter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		var next *pendingDelete
		for _, p := range r.pending {
			next = p
			break
		}
		r.mu.Unlock()

		if next == nil {
			return nil
		}
		select {
		case <-next.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush runs every delete still waiting on its timer immediately and waits
// for them, bounded by ctx. Later calls to Schedule are ignored.
func (r *Redeleter) Flush(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	due := make(map[string]*pendingDelete)
	for id, p := range r.pending {
		if p.timer.Stop() {
			due[id] = p
		}
	}
	r.mu.Unlock()

	if len(due) > 0 {
		r.logger.Info("running pending classifier deletes early", zap.Int("count", len(due)))
	}

	var g errgroup.Group
	g.SetLimit(flushConcurrency)
	for id, p := range due {
		g.Go(func() error {
			r.redelete(ctx, p.creds, id)
			r.finish(id, p)
			return nil
		})
	}
	_ = g.Wait()

	return r.Wait(ctx)
}

// finish forgets p if it is still the current entry and releases its waiters
func (r *Redeleter) finish(classifierID string, p *pendingDelete) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[classifierID] == p {
		delete(r.pending, classifierID)
	}
	close(p.done)
}

func (r *Redeleter) redelete(ctx context.Context, creds *models.Credentials, classifierID string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.backend.DeleteClassifier(ctx, creds, classifierID)
	switch {
	case err == nil:
		r.logger.Info("classifier removed by delayed delete", zap.String("classifier_id", classifierID))
		classifierDeletionsTotal.WithLabelValues("redelete_removed").Inc()
	case providers.IsNotFound(err):
		r.logger.Debug("classifier already gone", zap.String("classifier_id", classifierID))
		classifierDeletionsTotal.WithLabelValues("redelete_gone").Inc()
	default:
		r.logger.Error("delayed classifier delete failed",
			zap.String("classifier_id", classifierID),
			zap.String("credentials_id", creds.ID),
			zap.Error(err))
		classifierDeletionsTotal.WithLabelValues("redelete_failed").Inc()
		r.notifier.Notify(fmt.Sprintf("Failed to delete classifier %s with credentials %s: %v",
			classifierID, creds.ID, err), notify.ChannelErrors)
	}
}
