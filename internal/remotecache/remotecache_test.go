package remotecache

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/logging"
)

func newTestServer(t *testing.T) (*httptest.Server, *blobstore.Store) {
	t.Helper()
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(store, logging.NewNopLogger())
	return httptest.NewServer(srv), store
}

func testClientConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig(baseURL)
	cfg.MaxElapsedTime = 2 * time.Second
	cfg.InitialInterval = 5 * time.Millisecond
	cfg.MaxInterval = 20 * time.Millisecond
	return cfg
}

func TestClientPutGetRoundTrip(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	client := NewClient(testClientConfig(httpSrv.URL))
	ctx := context.Background()

	data := []byte("remote cache payload")
	h, err := client.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if h != hashing.HashBytes(data) {
		t.Errorf("Put() hash mismatch")
	}

	got, err := client.Get(ctx, h)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestClientGetMissReturnsMissError(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	client := NewClient(testClientConfig(httpSrv.URL))
	ctx := context.Background()

	var ghost hashing.Hash
	ghost[0] = 0xAB
	_, err := client.Get(ctx, ghost)
	if err == nil {
		t.Fatal("expected miss error")
	}
	if !IsMiss(err) {
		t.Errorf("IsMiss(%v) = false, want true", err)
	}
}

func TestClientHasReflectsServerState(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	client := NewClient(testClientConfig(httpSrv.URL))
	ctx := context.Background()

	var ghost hashing.Hash
	ghost[0] = 0xCD
	ok, err := client.Has(ctx, ghost)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Has() = true for unknown hash, want false")
	}

	data := []byte("present blob")
	h, err := client.Put(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	ok, err = client.Has(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Has() = false for stored hash, want true")
	}
}

func TestClientPutCompressesLargePayload(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	client := NewClient(testClientConfig(httpSrv.URL))
	ctx := context.Background()

	large := bytes.Repeat([]byte("a"), compressionThreshold*4)
	h, err := client.Put(ctx, large)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := client.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, large) {
		t.Error("round trip of compressed payload failed")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	b := newCircuitBreaker(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() false before breaker should trip (iteration %d)", i)
		}
		b.Record(false)
	}
	if b.Allow() {
		t.Error("Allow() true after threshold consecutive failures, want false")
	}
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	b := newCircuitBreaker(2, time.Hour)
	b.Record(false)
	b.Record(false)
	if b.Allow() {
		t.Fatal("expected breaker open")
	}
	// Force into half-open by simulating elapsed cooldown.
	b.mu.Lock()
	b.openedAt = time.Now().Add(-2 * time.Hour)
	b.mu.Unlock()

	if !b.Allow() {
		t.Fatal("expected half-open trial to be allowed")
	}
	b.Record(true)
	if !b.Allow() {
		t.Error("Allow() false after successful half-open trial, want true")
	}
}
