package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	ids   []uuid.UUID
	err   error
}

func (l *countingLoader) ActiveParticipantIDs(conversationID uuid.UUID) ([]uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.ids, nil
}

func (l *countingLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestResolveCachesWithinTTL(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	c := NewParticipantCache(loader, time.Minute)
	conversationID := uuid.New()

	for i := 0; i < 5; i++ {
		ids, err := c.Resolve(context.Background(), conversationID)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("expected 2 participants, got %d", len(ids))
		}
	}

	if got := loader.callCount(); got != 1 {
		t.Errorf("expected exactly 1 store read, got %d", got)
	}
	if got := c.Loads(); got != 1 {
		t.Errorf("load counter disagrees with the loader, got %d", got)
	}
}

func TestResolveReloadsAfterTTL(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New()}}
	c := NewParticipantCache(loader, 10*time.Millisecond)
	conversationID := uuid.New()

	if _, err := c.Resolve(context.Background(), conversationID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Resolve(context.Background(), conversationID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := loader.callCount(); got != 2 {
		t.Errorf("expected reload after TTL, got %d store reads", got)
	}
}

func TestInvalidateForcesStoreRead(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New()}}
	c := NewParticipantCache(loader, time.Minute)
	conversationID := uuid.New()

	if _, err := c.Resolve(context.Background(), conversationID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	before := c.Loads()

	c.Invalidate(conversationID)

	if _, err := c.Resolve(context.Background(), conversationID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := c.Loads(); got != before+1 {
		t.Errorf("expected exactly one store read after invalidate, got %d extra", got-before)
	}
	if got := loader.callCount(); int64(got) != c.Loads() {
		t.Errorf("load counter %d disagrees with loader calls %d", c.Loads(), got)
	}
}

func TestInvalidateUnknownConversationIsNoop(t *testing.T) {
	loader := &countingLoader{}
	c := NewParticipantCache(loader, time.Minute)
	c.Invalidate(uuid.New())
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestLoaderFailureIsNotCached(t *testing.T) {
	loader := &countingLoader{err: errors.New("store down")}
	c := NewParticipantCache(loader, time.Minute)
	conversationID := uuid.New()

	if _, err := c.Resolve(context.Background(), conversationID); err == nil {
		t.Fatal("expected error from failing loader")
	}
	if c.Len() != 0 {
		t.Errorf("failed load must not leave an entry, got %d", c.Len())
	}

	// Recovery: the next resolve goes back to the store
	loader.mu.Lock()
	loader.err = nil
	loader.ids = []uuid.UUID{uuid.New()}
	loader.mu.Unlock()

	ids, err := c.Resolve(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("Resolve after recovery failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 participant after recovery, got %d", len(ids))
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New()}}
	c := NewParticipantCache(loader, 10*time.Millisecond)

	if _, err := c.Resolve(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := c.Resolve(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if evicted := c.sweep(); evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", evicted)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache after sweep, got %d", c.Len())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New()}}
	c := NewParticipantCache(loader, 50*time.Millisecond)
	c.Start()
	c.Stop() // must not hang
}

func TestConcurrentResolveAndInvalidate(t *testing.T) {
	loader := &countingLoader{ids: []uuid.UUID{uuid.New()}}
	c := NewParticipantCache(loader, time.Minute)
	conversationID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = c.Resolve(context.Background(), conversationID)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Invalidate(conversationID)
			}
		}()
	}
	wg.Wait()
}
