package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
)

func quickRetry() RetryPolicy {
	return backoffPolicy{maxAttempts: 3, baseDelay: time.Millisecond}
}

func TestDoRetriesServerErrors(t *testing.T) {
	is := is.New(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	is.NoErr(err)

	resp, err := Do(context.Background(), srv.Client(), req, quickRetry())
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(attempts.Load(), int64(3))
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	is := is.New(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	is.NoErr(err)

	resp, err := Do(context.Background(), srv.Client(), req, quickRetry())
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusServiceUnavailable)
	is.Equal(attempts.Load(), int64(3))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	is := is.New(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	is.NoErr(err)

	resp, err := Do(context.Background(), srv.Client(), req, quickRetry())
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusNotFound)
	is.Equal(attempts.Load(), int64(1))
}

func TestDoWithNoRetryPolicy(t *testing.T) {
	is := is.New(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	is.NoErr(err)

	resp, err := Do(context.Background(), srv.Client(), req, NoRetryPolicy{})
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusInternalServerError)
	is.Equal(attempts.Load(), int64(1))
}

func TestDoHonorsContextCancellation(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	is.NoErr(err)

	_, err = Do(ctx, srv.Client(), req, quickRetry())
	is.True(err != nil)
}

func TestHTTPErrorIncludesBodyPreview(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("access denied"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	is.NoErr(err)
	defer resp.Body.Close()

	herr := HTTPError(resp)
	is.True(herr != nil)
	is.True(strings.Contains(herr.Error(), "403"))
	is.True(strings.Contains(herr.Error(), "access denied"))
}
