package cgls

import (
	"github.com/rs/zerolog"

	"github.com/example/go-cgls/cgls/download"
)

type downloadConfig struct {
	concurrency      int
	chunkSize        int
	progress         download.ProgressFunc
	s3CredentialsURL string
	downloader       download.Manager
}

// DownloadOption customises how observation files are downloaded.
type DownloadOption func(*downloadConfig)

// WithDownloadConcurrency specifies the number of files to fetch in
// parallel.
func WithDownloadConcurrency(n int) DownloadOption {
	return func(cfg *downloadConfig) {
		if n > 0 {
			cfg.concurrency = n
		}
	}
}

// WithChunkSize overrides the streaming copy buffer size.
func WithChunkSize(n int) DownloadOption {
	return func(cfg *downloadConfig) {
		if n > 0 {
			cfg.chunkSize = n
		}
	}
}

// WithProgress registers a callback to receive download progress
// notifications.
func WithProgress(fn download.ProgressFunc) DownloadOption {
	return func(cfg *downloadConfig) {
		cfg.progress = fn
	}
}

// WithS3CredentialsURL enables s3:// task URLs by naming the endpoint that
// issues temporary credentials for the session.
func WithS3CredentialsURL(raw string) DownloadOption {
	return func(cfg *downloadConfig) {
		cfg.s3CredentialsURL = raw
	}
}

// WithDownloader allows providing a custom download.Manager implementation.
func WithDownloader(m download.Manager) DownloadOption {
	return func(cfg *downloadConfig) {
		if m != nil {
			cfg.downloader = m
		}
	}
}

func (c *downloadConfig) ensureDefaults(auth download.BasicAuth, log *zerolog.Logger) {
	if c.downloader == nil {
		c.downloader = download.NewManager(download.Config{
			Concurrency:      c.concurrency,
			ChunkSize:        c.chunkSize,
			Progress:         c.progress,
			Logger:           log,
			BasicAuth:        &auth,
			S3CredentialsURL: c.s3CredentialsURL,
		})
	}
}
