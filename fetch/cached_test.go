package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sievelabs/sieve/cache"
)

func TestCachedClientReadThrough(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("cached page body"))
	}))
	defer srv.Close()

	body, err := NewBodyCache(nil, nil, cache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	c := NewCachedClient(NewHTTPClient(Config{URLValidator: noopValidator}), body)
	ctx := context.Background()

	first, err := c.Fetch(ctx, Request{URL: srv.URL, UseCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Fatal("first fetch must not come from cache")
	}

	second, err := c.Fetch(ctx, Request{URL: srv.URL, UseCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Fatal("second fetch must come from cache")
	}
	if string(second.Body) != "cached page body" {
		t.Fatalf("cached body = %q", second.Body)
	}
	if second.ETag != `"v1"` || second.Hash != first.Hash {
		t.Fatalf("cached metadata lost: %+v", second)
	}
	if hits.Load() != 1 {
		t.Fatalf("origin hit %d times, want 1", hits.Load())
	}
}

func TestCachedClientBypass(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	body, err := NewBodyCache(nil, nil, cache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	c := NewCachedClient(NewHTTPClient(Config{URLValidator: noopValidator}), body)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.Fetch(ctx, Request{URL: srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if res.FromCache {
			t.Fatal("UseCache=false must bypass the cache")
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("origin hit %d times, want 3", hits.Load())
	}
}
