// Package cgls is a client for the Copernicus Global Land Service manifest
// portal: it authenticates, discovers product collections from the portal's
// directory-listing pages, loads a collection's latest manifest into a
// date-indexed catalog, and downloads observation files concurrently.
package cgls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/go-cgls/cgls/catalog"
	"github.com/example/go-cgls/cgls/download"
	internalhttp "github.com/example/go-cgls/cgls/internal/http"
	"github.com/example/go-cgls/cgls/internal/htmltable"
	"github.com/example/go-cgls/cgls/manifest"
)

const defaultBaseURL = "https://land.copernicus.vgt.vito.be/manifest/"

// parentDirectoryColumn is the listing-page column that carries child
// entries; listingSkipRows drops the decorative rows above it.
const (
	parentDirectoryColumn = "Parent Directory"
	listingSkipRows       = 2
)

var (
	// ErrMissingCredentials is returned when a client is constructed
	// without a user or password.
	ErrMissingCredentials = errors.New("cgls: user and password are mandatory for downloading; " +
		"registration available at https://land.copernicus.vgt.vito.be/PDF/portal/Application.html#Home")
	// ErrUnknownProduct is returned when a requested collection is not in
	// the portal's listing.
	ErrUnknownProduct = errors.New("cgls: product not in the collection list")
)

// TableParser extracts a named column from a server-rendered HTML listing
// page. The default implementation lives in internal/htmltable.
type TableParser interface {
	Column(r io.Reader, header string, skipRows int) ([]string, error)
}

// Client is an authenticated session against the manifest portal.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	retry      internalhttp.RetryPolicy
	auth       download.BasicAuth
	tables     TableParser
	log        zerolog.Logger

	products []string
}

// NewClient creates a client for the given portal credentials. Both are
// mandatory; requests carry them as HTTP basic auth.
func NewClient(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: newDefaultHTTPClient(),
		retry:      internalhttp.DefaultRetryPolicy(),
		auth:       download.BasicAuth{Username: username, Password: password},
		tables:     htmltable.Parser{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ListCollections fetches the portal's top-level listing and returns the
// available product collection names.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("cgls: list collections: %w", err)
	}
	defer resp.Body.Close()

	entries, err := c.tables.Column(resp.Body, parentDirectoryColumn, listingSkipRows)
	if err != nil {
		return nil, fmt.Errorf("cgls: list collections: %w", err)
	}

	products := make([]string, 0, len(entries))
	for _, entry := range entries {
		products = append(products, strings.TrimSuffix(entry, "/"))
	}
	c.products = products

	return append([]string(nil), products...), nil
}

// LoadCollection locates the most recent manifest for the named collection,
// parses it, and returns the resulting catalog.
func (c *Client) LoadCollection(ctx context.Context, name string) (*catalog.Catalog, error) {
	if c.products == nil {
		if _, err := c.ListCollections(ctx); err != nil {
			return nil, err
		}
	}
	if !contains(c.products, name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, name)
	}

	collectionURL, err := url.JoinPath(c.baseURL, name)
	if err != nil {
		return nil, fmt.Errorf("cgls: build collection url: %w", err)
	}

	resp, err := c.get(ctx, collectionURL+"/")
	if err != nil {
		return nil, fmt.Errorf("cgls: list collection %s: %w", name, err)
	}
	entries, err := c.tables.Column(resp.Body, parentDirectoryColumn, listingSkipRows)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("cgls: list collection %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cgls: collection %s has no manifest files", name)
	}
	// Listing is chronological: the last entry is the latest release.
	latest := entries[len(entries)-1]

	manifestURL, err := url.JoinPath(c.baseURL, name, latest)
	if err != nil {
		return nil, fmt.Errorf("cgls: build manifest url: %w", err)
	}

	resp, err = c.get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("cgls: fetch manifest %s: %w", latest, err)
	}
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("cgls: read manifest %s: %w", latest, err)
	}

	records, err := manifest.Parse(string(text))
	if err != nil {
		return nil, fmt.Errorf("cgls: collection %s: %w", name, err)
	}
	return catalog.New(name, records), nil
}

// Download fetches the given tasks into destDir. An empty destDir defaults
// to ./data/<sub-path of the first task>. The returned paths are the files
// that were materialized or found already complete.
func (c *Client) Download(ctx context.Context, tasks []download.Task, destDir string, opts ...DownloadOption) ([]string, error) {
	if len(tasks) == 0 {
		return nil, errors.New("cgls: no download tasks supplied")
	}
	if destDir == "" {
		destDir = filepath.Join(".", "data", tasks[0].SubPath)
	}

	var cfg downloadConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ensureDefaults(c.auth, &c.log)

	return cfg.downloader.Download(ctx, c.httpClient, tasks, destDir)
}

// get issues an authenticated GET and fails on non-2xx responses. Listing
// requests retry transient failures per the client's retry policy.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.auth.Username, c.auth.Password)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := internalhttp.Do(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, internalhttp.HTTPError(resp)
	}
	return resp, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func newDefaultHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Timeout: 30 * time.Second, Jar: jar}
}
