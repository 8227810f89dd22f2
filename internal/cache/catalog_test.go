package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

type stubLoader struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (s *stubLoader) FetchCatalog(ctx context.Context) (types.Catalog, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return types.Catalog{}, s.err
	}
	return types.Catalog{
		Agents:   []types.CatalogEntry{{ID: "a1", Name: "Anna"}},
		Projects: []types.CatalogEntry{{ID: "p1", Name: "Solar"}},
	}, nil
}

func TestCatalogCacheGet(t *testing.T) {
	loader := &stubLoader{}
	c := NewCatalogCache(loader, time.Minute, time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		catalog, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(catalog.Agents) != 1 {
			t.Fatalf("expected 1 agent, got %d", len(catalog.Agents))
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}

	c.Invalidate()
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Errorf("expected reload after invalidate, got %d calls", got)
	}
}

func TestCatalogCacheSharesConcurrentLoads(t *testing.T) {
	loader := &stubLoader{release: make(chan struct{})}
	c := NewCatalogCache(loader, time.Minute, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}

	// give the goroutines time to join the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	if got := loader.calls.Load(); got != 1 {
		t.Errorf("expected concurrent loads to share one call, got %d", got)
	}
}

func TestCatalogCacheLabels(t *testing.T) {
	c := NewCatalogCache(&stubLoader{}, time.Minute, time.Second, zerolog.Nop())

	if got := c.AgentName("a1"); got != "a1" {
		t.Errorf("expected id before load, got %s", got)
	}

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := c.AgentName("a1"); got != "Anna" {
		t.Errorf("expected Anna, got %s", got)
	}
	if got := c.ProjectName("p1"); got != "Solar" {
		t.Errorf("expected Solar, got %s", got)
	}
	if got := c.ProjectName("p9"); got != "p9" {
		t.Errorf("expected unknown id to pass through, got %s", got)
	}

	c.Invalidate()
	if got := c.AgentName("a1"); got != "Anna" {
		t.Errorf("expected last known name after expiry, got %s", got)
	}
}

func TestCatalogCacheError(t *testing.T) {
	loader := &stubLoader{err: errors.New("upstream down")}
	c := NewCatalogCache(loader, time.Minute, time.Second, zerolog.Nop())

	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error on retry")
	}
	if got := loader.calls.Load(); got != 2 {
		t.Errorf("expected failed loads not to be cached, got %d calls", got)
	}
}
