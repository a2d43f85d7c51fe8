package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/matryer/is"
)

type fakeS3Downloader struct {
	payload []byte
	bucket  string
	key     string
	calls   int
}

func (f *fakeS3Downloader) Download(_ context.Context, w io.WriterAt, input *s3.GetObjectInput, _ ...func(*s3manager.Downloader)) (int64, error) {
	f.calls++
	f.bucket = aws.ToString(input.Bucket)
	f.key = aws.ToString(input.Key)
	n, err := w.WriteAt(f.payload, 0)
	return int64(n), err
}

func credentialsHandler(requests *atomic.Int64, expiry time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprintf(w, `{"accessKeyId":"AKID","secretAccessKey":"SECRET","sessionToken":"TOKEN","expiration":%q}`,
			expiry.Format(s3ExpirationLayout))
	}
}

func TestDownloadS3(t *testing.T) {
	is := is.New(t)

	var credsRequests atomic.Int64
	srv := httptest.NewServer(credentialsHandler(&credsRequests, time.Now().Add(time.Hour)))
	defer srv.Close()

	fake := &fakeS3Downloader{payload: []byte("s3 object bytes")}
	var gotRegion string
	var gotCreds aws.CredentialsProvider

	m := NewManager(Config{S3CredentialsURL: srv.URL}).(*manager)
	m.s3.newDownloader = func(cfg aws.Config) s3Downloader {
		gotRegion = cfg.Region
		gotCreds = cfg.Credentials
		return fake
	}

	dir := t.TempDir()
	tasks := []Task{{URL: "s3://obs-bucket/Vegetation/NDVI/file.nc", FileName: "file.nc"}}

	paths, err := m.Download(context.Background(), srv.Client(), tasks, dir)
	is.NoErr(err)
	is.Equal(len(paths), 1)
	is.Equal(fake.bucket, "obs-bucket")
	is.Equal(fake.key, "Vegetation/NDVI/file.nc")
	is.Equal(gotRegion, defaultS3Region)

	creds, err := gotCreds.Retrieve(context.Background())
	is.NoErr(err)
	is.Equal(creds.AccessKeyID, "AKID")
	is.Equal(creds.SessionToken, "TOKEN")

	data, err := os.ReadFile(filepath.Join(dir, "file.nc"))
	is.NoErr(err)
	is.Equal(data, fake.payload)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	is.NoErr(err)
	is.Equal(len(leftovers), 0)
}

type failingS3Downloader struct{}

func (failingS3Downloader) Download(context.Context, io.WriterAt, *s3.GetObjectInput, ...func(*s3manager.Downloader)) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestDownloadS3CleansUpFailedTransfer(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(credentialsHandler(new(atomic.Int64), time.Now().Add(time.Hour)))
	defer srv.Close()

	m := NewManager(Config{S3CredentialsURL: srv.URL}).(*manager)
	m.s3.newDownloader = func(aws.Config) s3Downloader { return failingS3Downloader{} }

	dir := t.TempDir()
	_, err := m.downloadS3(context.Background(), srv.Client(),
		Task{URL: "s3://b/k.nc", FileName: "k.nc"}, dir)
	is.True(err != nil)

	// Neither the final file nor a partial one survives the failure.
	_, statErr := os.Stat(filepath.Join(dir, "k.nc"))
	is.True(os.IsNotExist(statErr))
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	is.NoErr(err)
	is.Equal(len(leftovers), 0)
}

func TestDownloadS3ReusesCredentials(t *testing.T) {
	is := is.New(t)

	var credsRequests atomic.Int64
	srv := httptest.NewServer(credentialsHandler(&credsRequests, time.Now().Add(time.Hour)))
	defer srv.Close()

	fake := &fakeS3Downloader{payload: []byte("x")}
	m := NewManager(Config{S3CredentialsURL: srv.URL}).(*manager)
	m.s3.newDownloader = func(aws.Config) s3Downloader { return fake }

	dir := t.TempDir()
	ctx := context.Background()

	_, err := m.Download(ctx, srv.Client(), []Task{{URL: "s3://b/k1", FileName: "k1"}}, dir)
	is.NoErr(err)
	_, err = m.Download(ctx, srv.Client(), []Task{{URL: "s3://b/k2", FileName: "k2"}}, dir)
	is.NoErr(err)

	is.Equal(credsRequests.Load(), int64(1)) // cached until close to expiry
	is.Equal(fake.calls, 2)
}

func TestDownloadS3RefreshesExpiredCredentials(t *testing.T) {
	is := is.New(t)

	var credsRequests atomic.Int64
	srv := httptest.NewServer(credentialsHandler(&credsRequests, time.Now().Add(-time.Minute)))
	defer srv.Close()

	fake := &fakeS3Downloader{payload: []byte("x")}
	m := NewManager(Config{S3CredentialsURL: srv.URL}).(*manager)
	m.s3.newDownloader = func(aws.Config) s3Downloader { return fake }

	dir := t.TempDir()
	ctx := context.Background()

	_, err := m.Download(ctx, srv.Client(), []Task{{URL: "s3://b/k1", FileName: "k1"}}, dir)
	is.NoErr(err)
	_, err = m.Download(ctx, srv.Client(), []Task{{URL: "s3://b/k2", FileName: "k2"}}, dir)
	is.NoErr(err)

	is.Equal(credsRequests.Load(), int64(2))
}

func TestDownloadS3RequiresCredentialsEndpoint(t *testing.T) {
	is := is.New(t)

	m := NewManager(Config{}).(*manager)
	_, err := m.downloadS3(context.Background(), http.DefaultClient,
		Task{URL: "s3://b/k", FileName: "k"}, t.TempDir())
	is.True(err != nil)
}

func TestDownloadS3RejectsIncompleteURL(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(credentialsHandler(new(atomic.Int64), time.Now().Add(time.Hour)))
	defer srv.Close()

	m := NewManager(Config{S3CredentialsURL: srv.URL}).(*manager)
	_, err := m.downloadS3(context.Background(), srv.Client(),
		Task{URL: "s3://bucket-only", FileName: "k"}, t.TempDir())
	is.True(err != nil)
}

func TestDownloadS3ReportsCompletion(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(credentialsHandler(new(atomic.Int64), time.Now().Add(time.Hour)))
	defer srv.Close()

	fake := &fakeS3Downloader{payload: []byte("12345")}
	var reported atomic.Int64
	m := NewManager(Config{
		S3CredentialsURL: srv.URL,
		Progress: func(fp FileProgress) {
			reported.Store(fp.Downloaded)
		},
	}).(*manager)
	m.s3.newDownloader = func(aws.Config) s3Downloader { return fake }

	_, err := m.Download(context.Background(), srv.Client(),
		[]Task{{URL: "s3://b/k", FileName: "k"}}, t.TempDir())
	is.NoErr(err)
	is.Equal(reported.Load(), int64(len(fake.payload)))
}
