package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var imagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "training_images_fetched_total",
	Help: "Training images retrieved for archive assembly by source and outcome",
}, []string{"source", "outcome"})

// accepted image types and the extension each is stored with
var acceptedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Assembler turns per-label image references into zip archives on local disk
type Assembler struct {
	workDir         string
	minImages       int
	maxImages       int
	maxArchiveBytes int64
	concurrency     int
	httpClient      *http.Client
	store           ImageStore
	logger          *zap.Logger
}

// NewAssembler creates an assembler. readTimeout bounds each web download.
func NewAssembler(cfg config.TrainingConfig, readTimeout time.Duration, store ImageStore, logger *zap.Logger) *Assembler {
	concurrency := cfg.DownloadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Assembler{
		workDir:         cfg.WorkDir,
		minImages:       cfg.MinImages,
		maxImages:       cfg.MaxImages,
		maxArchiveBytes: cfg.MaxArchiveBytes,
		concurrency:     concurrency,
		httpClient:      &http.Client{Timeout: readTimeout},
		store:           store,
		logger:          logger,
	}
}

// AssembleAll builds one archive per label. Labels are assembled concurrently
// and a failing label does not interrupt the others. If any label fails, every
// archive produced is removed and the first error is returned.
func (a *Assembler) AssembleAll(ctx context.Context, refs map[string][]ImageRef) (map[string]string, error) {
	var (
		mu       sync.Mutex
		archives = make(map[string]string, len(refs))
		g        errgroup.Group
	)

	for label, labelRefs := range refs {
		g.Go(func() error {
			path, err := a.Assemble(ctx, label, labelRefs)
			if err != nil {
				a.logger.Warn("failed to assemble training archive",
					zap.String("label", label),
					zap.Error(err))
				return err
			}
			mu.Lock()
			archives[label] = path
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		RemoveArchives(archives)
		return nil, err
	}
	return archives, nil
}

// Assemble downloads and validates every image for one label and zips them.
// The returned archive is the only file left behind.
func (a *Assembler) Assemble(ctx context.Context, label string, refs []ImageRef) (string, error) {
	if len(refs) < a.minImages {
		return "", services.Derive(services.ErrNotEnoughTrainingData, nil).
			WithDetail("label", label).
			WithDetail("count", len(refs))
	}
	if len(refs) > a.maxImages {
		return "", services.Derive(services.ErrTooMuchTrainingData, nil).
			WithDetail("label", label).
			WithDetail("count", len(refs))
	}

	if err := os.MkdirAll(a.workDir, 0o700); err != nil {
		return "", services.WrapInternal("failed to prepare work directory", err)
	}
	downloadDir, err := os.MkdirTemp(a.workDir, "images-*")
	if err != nil {
		return "", services.WrapInternal("failed to create download directory", err)
	}
	defer os.RemoveAll(downloadDir)

	files := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			path, err := a.fetch(gctx, downloadDir, i, ref)
			if err != nil {
				return err
			}
			files[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	archive, err := os.CreateTemp(a.workDir, "training-*.zip")
	if err != nil {
		return "", services.WrapInternal("failed to create archive", err)
	}
	archivePath := archive.Name()
	archive.Close()

	if err := writeArchive(archivePath, files); err != nil {
		os.Remove(archivePath)
		return "", services.WrapInternal("failed to write archive", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		os.Remove(archivePath)
		return "", services.WrapInternal("failed to inspect archive", err)
	}
	if info.Size() > a.maxArchiveBytes {
		os.Remove(archivePath)
		return "", services.Derive(services.ErrArchiveTooLarge, nil).
			WithDetail("label", label).
			WithDetail("bytes", info.Size())
	}

	a.logger.Debug("assembled training archive",
		zap.String("label", label),
		zap.Int("images", len(files)),
		zap.Int64("bytes", info.Size()))

	return archivePath, nil
}

// fetch retrieves one image into dir and returns its path, named with the
// extension of its sniffed type.
func (a *Assembler) fetch(ctx context.Context, dir string, index int, ref ImageRef) (string, error) {
	sourceLabel := "web"
	if _, ok := ref.(StoredImage); ok {
		sourceLabel = "store"
	}

	path, err := a.download(ctx, dir, index, ref)
	if err != nil {
		imagesFetchedTotal.WithLabelValues(sourceLabel, "failed").Inc()
		return "", err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		os.Remove(path)
		imagesFetchedTotal.WithLabelValues(sourceLabel, "failed").Inc()
		return "", sourceError(services.ErrImageDownloadFailed, ref, err)
	}

	ext, ok := acceptedTypes[mtype.String()]
	if !ok {
		os.Remove(path)
		imagesFetchedTotal.WithLabelValues(sourceLabel, "rejected").Inc()
		return "", sourceError(services.ErrUnsupportedImageType, ref, nil).
			WithDetail("type", mtype.String())
	}

	renamed := path + ext
	if err := os.Rename(path, renamed); err != nil {
		os.Remove(path)
		return "", services.WrapInternal("failed to rename image", err)
	}

	imagesFetchedTotal.WithLabelValues(sourceLabel, "ok").Inc()
	return renamed, nil
}

// download copies the image bytes into a new file in dir. Reads are capped
// at the archive limit.
func (a *Assembler) download(ctx context.Context, dir string, index int, ref ImageRef) (string, error) {
	body, err := a.open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer body.Close()

	out, err := os.CreateTemp(dir, fmt.Sprintf("%05d-*", index))
	if err != nil {
		return "", services.WrapInternal("failed to create image file", err)
	}
	path := out.Name()

	n, err := io.Copy(out, io.LimitReader(body, a.maxArchiveBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", sourceError(services.ErrImageDownloadFailed, ref, err)
	}
	if n > a.maxArchiveBytes {
		os.Remove(path)
		return "", sourceError(services.ErrArchiveTooLarge, ref, nil)
	}
	return path, nil
}

func (a *Assembler) open(ctx context.Context, ref ImageRef) (io.ReadCloser, error) {
	switch r := ref.(type) {
	case WebImage:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
		if err != nil {
			return nil, sourceError(services.ErrImageDownloadFailed, ref, err)
		}
		req.Header.Set("User-Agent", "classifier-control-plane")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, sourceError(services.ErrImageDownloadFailed, ref, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, sourceError(services.ErrImageDownloadFailed, ref,
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return resp.Body, nil

	case StoredImage:
		if a.store == nil {
			return nil, sourceError(services.ErrImageDownloadFailed, ref, fmt.Errorf("no image store configured"))
		}
		img, err := a.store.GetImage(ctx, r.Key)
		if err != nil {
			return nil, sourceError(services.ErrImageDownloadFailed, ref, err)
		}
		return img.Body, nil

	default:
		return nil, services.WrapInternal("unsupported image reference", fmt.Errorf("%T", ref))
	}
}

// sourceError derives a user-facing error that names the offending image
func sourceError(sentinel *services.DomainError, ref ImageRef, cause error) *services.DomainError {
	err := services.Derive(sentinel, cause).WithDetail("source", ref.Source())
	err.Message = fmt.Sprintf("%s (%s)", sentinel.Message, ref.Source())
	return err
}
