package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	internalhttp "github.com/example/go-cgls/cgls/internal/http"
)

const (
	defaultS3Region     = "eu-west-1"
	s3ExpirationLayout  = "2006-01-02 15:04:05-07:00"
	s3CredentialsMargin = time.Minute
)

// s3Downloader matches the transfer manager's Download signature so tests
// can substitute their own implementation.
type s3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, optFns ...func(*s3manager.Downloader)) (int64, error)
}

// temporaryCredentials is the JSON shape served by the credentials endpoint.
type temporaryCredentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      string `json:"expiration"`
}

func (c temporaryCredentials) expiresAt() time.Time {
	t, err := time.Parse(s3ExpirationLayout, c.Expiration)
	if err != nil {
		return time.Time{}
	}
	return t
}

type s3Config struct {
	mu             sync.Mutex
	credentialsURL string
	region         string
	expiry         time.Time
	newDownloader  func(cfg aws.Config) s3Downloader
	downloader     s3Downloader
}

func newS3Config(credentialsURL string) *s3Config {
	return &s3Config{
		credentialsURL: credentialsURL,
		region:         defaultS3Region,
		newDownloader: func(cfg aws.Config) s3Downloader {
			return s3manager.NewDownloader(s3.NewFromConfig(cfg))
		},
	}
}

func (m *manager) downloadS3(ctx context.Context, client *http.Client, task Task, destDir string) (string, error) {
	if m.s3 == nil || m.s3.credentialsURL == "" {
		return "", fmt.Errorf("s3 url %s requires a credentials endpoint", task.URL)
	}

	parsed, err := url.Parse(task.URL)
	if err != nil {
		return "", fmt.Errorf("parse s3 url: %w", err)
	}
	bucket := parsed.Host
	key := parsed.Path
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	if bucket == "" || key == "" {
		return "", fmt.Errorf("s3 url %s missing bucket or key", task.URL)
	}

	dl, err := m.s3.ensureDownloader(ctx, client, m.cfg.BasicAuth)
	if err != nil {
		return "", err
	}

	destPath := filepath.Join(destDir, task.FileName)
	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(tmpPath)
	}()

	n, err := dl.Download(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3 download: %w", err)
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

	if m.cfg.Progress != nil {
		m.cfg.Progress(FileProgress{
			FileName:   task.FileName,
			URL:        task.URL,
			Downloaded: n,
			Total:      n,
		})
	}
	return destPath, nil
}

// ensureDownloader returns a transfer manager backed by valid temporary
// credentials, fetching and caching them as needed.
func (c *s3Config) ensureDownloader(ctx context.Context, client *http.Client, auth *BasicAuth) (s3Downloader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.downloader != nil && time.Now().Before(c.expiry.Add(-s3CredentialsMargin)) {
		return c.downloader, nil
	}

	creds, err := c.fetchCredentials(ctx, client, auth)
	if err != nil {
		return nil, err
	}
	c.expiry = creds.expiresAt()

	cfg := aws.Config{
		Region: c.region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
	}
	c.downloader = c.newDownloader(cfg)
	return c.downloader, nil
}

func (c *s3Config) fetchCredentials(ctx context.Context, client *http.Client, auth *BasicAuth) (*temporaryCredentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.credentialsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create credentials request: %w", err)
	}
	if auth != nil && auth.Username != "" {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := internalhttp.Do(ctx, client, req, internalhttp.DefaultRetryPolicy())
	if err != nil {
		return nil, fmt.Errorf("fetch temporary credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, internalhttp.HTTPError(resp)
	}

	var creds temporaryCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("decode temporary credentials: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials endpoint returned incomplete credentials")
	}
	return &creds, nil
}
