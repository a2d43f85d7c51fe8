// Package download fetches resolved observation files with a bounded worker
// pool. Tasks fail independently: a transport or verification error drops
// that task and is logged, while siblings keep running.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/example/go-cgls/cgls/internal/http"
)

const (
	defaultConcurrency = 4
	defaultChunkSize   = 1024
)

// ErrNoFilesDownloaded is returned when every submitted task failed.
var ErrNoFilesDownloaded = errors.New("download: no files downloaded")

// SizeMismatchError reports a file whose on-disk byte count after streaming
// differs from the declared content length.
type SizeMismatchError struct {
	FileName string
	Declared int64
	Written  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("download: %s: size incompatible with the original: declared %d, written %d",
		e.FileName, e.Declared, e.Written)
}

// Task is one file to fetch: produced by catalog resolution, consumed once.
type Task struct {
	URL      string
	FileName string
	SubPath  string
}

// BasicAuth holds portal credentials applied to download requests.
type BasicAuth struct {
	Username string
	Password string
}

// FileProgress reports download progress for a single file.
type FileProgress struct {
	FileName   string
	URL        string
	Downloaded int64
	Total      int64
}

// ProgressFunc is invoked as bytes are written for an individual file.
type ProgressFunc func(FileProgress)

// Config controls how downloads are executed.
type Config struct {
	// Concurrency bounds the worker pool. Defaults to 4.
	Concurrency int
	// ChunkSize is the streaming copy buffer size. Defaults to 1024 bytes.
	ChunkSize int
	// Progress, when set, observes per-file byte counts.
	Progress ProgressFunc
	// Logger records per-task failures. Nil means no logging.
	Logger *zerolog.Logger
	// BasicAuth is applied to every HTTP download request.
	BasicAuth *BasicAuth
	// S3CredentialsURL, when set, enables s3:// task URLs: temporary
	// credentials are fetched from this endpoint with the same basic auth.
	S3CredentialsURL string
}

// Manager downloads task files into a destination directory and returns the
// local paths that were materialized (or found already complete).
type Manager interface {
	Download(ctx context.Context, client *http.Client, tasks []Task, destDir string) ([]string, error)
}

type manager struct {
	cfg Config
	log zerolog.Logger
	s3  *s3Config
}

// NewManager constructs a download manager with the provided configuration.
func NewManager(cfg Config) Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &manager{cfg: cfg, log: log, s3: newS3Config(cfg.S3CredentialsURL)}
}

func (m *manager) Download(ctx context.Context, client *http.Client, tasks []Task, destDir string) ([]string, error) {
	if client == nil {
		return nil, errors.New("download: http client is required")
	}
	if len(tasks) == 0 {
		return nil, errors.New("download: no tasks supplied")
	}
	if destDir == "" {
		return nil, errors.New("download: destination directory is required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("download: create destination directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, m.cfg.Concurrency)

	var mu sync.Mutex
	var paths []string

	for _, task := range tasks {
		t := task
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			var path string
			var err error
			if strings.HasPrefix(strings.ToLower(t.URL), "s3://") {
				path, err = m.downloadS3(ctx, client, t, destDir)
			} else {
				path, err = m.downloadFile(ctx, client, t, destDir)
			}
			if err != nil {
				m.log.Error().Str("file", t.FileName).Str("url", t.URL).Err(err).Msg("download failed")
				return nil
			}

			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoFilesDownloaded
	}
	return paths, nil
}

func (m *manager) downloadFile(ctx context.Context, client *http.Client, task Task, destDir string) (string, error) {
	destPath := filepath.Join(destDir, task.FileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if m.cfg.BasicAuth != nil && m.cfg.BasicAuth.Username != "" {
		req.SetBasicAuth(m.cfg.BasicAuth.Username, m.cfg.BasicAuth.Password)
	}

	// Downloads are never retried; a failure drops only this task.
	resp, err := internalhttp.Do(ctx, client, req, internalhttp.NoRetryPolicy{})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", internalhttp.HTTPError(resp)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	// A complete prior output makes re-running a no-op: the body is never
	// read, so the second run transfers nothing.
	if info, err := os.Stat(destPath); err == nil && total > 0 && info.Size() == total {
		m.log.Debug().Str("file", task.FileName).Msg("skipping, already available")
		return destPath, nil
	}

	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(tmpPath)
	}()

	writer := newProgressWriter(out, m.cfg.Progress, FileProgress{
		FileName: task.FileName,
		URL:      task.URL,
		Total:    total,
	})

	written, err := io.CopyBuffer(writer, resp.Body, make([]byte, m.cfg.ChunkSize))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		// Truncated bodies fall through to the byte-count check below.
		return "", fmt.Errorf("copy data: %w", err)
	}

	if total > 0 && written != total {
		return "", &SizeMismatchError{FileName: task.FileName, Declared: total, Written: written}
	}

	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return destPath, nil
}

type progressWriter struct {
	dst      io.Writer
	progress ProgressFunc
	meta     FileProgress
}

func newProgressWriter(dst io.Writer, fn ProgressFunc, meta FileProgress) *progressWriter {
	return &progressWriter{dst: dst, progress: fn, meta: meta}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.meta.Downloaded += int64(n)
		if w.progress != nil {
			w.progress(w.meta)
		}
	}
	return n, err
}
