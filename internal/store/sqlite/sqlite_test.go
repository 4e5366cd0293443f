package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nextlevelbuilder/replyengine/internal/store"
)

func TestStore_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "counters.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, "sender:u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing key: %v", err)
	}

	t0 := time.UnixMilli(1_700_000_000_123)
	want := store.Counters{WindowStart: t0, ReplyCount: 3, LastReplyAt: t0.Add(time.Second), Multiplier: 2}
	if err := s.Set(ctx, "sender:u1", want); err != nil {
		t.Fatal(err)
	}
	want.ReplyCount = 4
	if err := s.Set(ctx, "sender:u1", want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "sender:u1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestStore_ZeroTimesSurvive(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Set(ctx, "group:g1", store.Counters{ReplyCount: 1}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "group:g1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.WindowStart.IsZero() || !got.LastReplyAt.IsZero() {
		t.Errorf("zero times not preserved: %+v", got)
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "counters.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	const workers, perWorker = 4, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Update(ctx, "group:g1", func(c store.Counters) store.Counters {
					c.ReplyCount++
					return c
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "group:g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplyCount != workers*perWorker {
		t.Errorf("ReplyCount = %d, want %d", got.ReplyCount, workers*perWorker)
	}
}
