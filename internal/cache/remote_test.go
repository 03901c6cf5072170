package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRemote is an in-memory RemoteClient for tests. Setting failAll makes
// every operation return an error, simulating an unreachable L2 service.
type fakeRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	failAll bool

	getCalls int
	setCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

var errRemoteDown = errors.New("remote tier unreachable")

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failAll {
		return nil, false, errRemoteDown
	}
	data, ok := f.data[key]
	return data, ok, nil
}

func (f *fakeRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.failAll {
		return errRemoteDown
	}
	f.data[key] = value
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errRemoteDown
	}
	delete(f.data, key)
	return nil
}

func (f *fakeRemote) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errRemoteDown
	}
	f.data = make(map[string][]byte)
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errRemoteDown
	}
	return nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = failing
}

func TestRemoteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := NewRemoteCache[string](newFakeRemote(), nil, nil)

	if err := remote.Set(ctx, "k", "hello", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok := remote.Get(ctx, "k")
	if !ok || got != "hello" {
		t.Fatalf("expected (hello, true), got (%q, %v)", got, ok)
	}

	if _, ok := remote.Get(ctx, "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestRemoteCacheDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	client := newFakeRemote()
	remote := NewRemoteCache[string](client, nil, nil)

	if err := remote.Set(ctx, "k", "hello", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	client.setFailing(true)

	got, ok := remote.Get(ctx, "k")
	if ok {
		t.Errorf("expected failure reported as miss, got (%q, %v)", got, ok)
	}
	if remote.ErrorCount() == 0 {
		t.Error("expected error counter incremented")
	}
}

func TestRemoteCacheDecodeFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	client := newFakeRemote()
	client.data["k"] = []byte("{not json")

	remote := NewRemoteCache[map[string]string](client, nil, nil)

	if _, ok := remote.Get(ctx, "k"); ok {
		t.Error("expected corrupt payload reported as miss")
	}
	if remote.ErrorCount() != 1 {
		t.Errorf("expected 1 error counted, got %d", remote.ErrorCount())
	}
}

func TestRemoteCacheSetFailureReturnsError(t *testing.T) {
	ctx := context.Background()
	client := newFakeRemote()
	client.setFailing(true)

	remote := NewRemoteCache[string](client, nil, nil)

	if err := remote.Set(ctx, "k", "v", time.Minute); err == nil {
		t.Error("expected set error when remote is down")
	}
	if err := remote.Delete(ctx, "k"); err == nil {
		t.Error("expected delete error when remote is down")
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[map[string]int]{}

	data, err := codec.Marshal(map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	value, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if value["a"] != 1 {
		t.Errorf("expected a=1, got %v", value)
	}
}
