package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/store"
	"github.com/nextlevelbuilder/replyengine/internal/store/memory"
)

var fatigue = config.FatigueConfig{
	Enabled:              true,
	WindowMs:             60_000,
	BaseLimit:            4,
	MinIntervalMs:        5_000,
	BackoffFactor:        2,
	MaxBackoffMultiplier: 4,
}

func TestCounters_WindowAndBackoff(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	var c store.Counters

	c = c.RecordReply(t0, fatigue)
	if c.ReplyCount != 1 || c.Multiplier != 1 {
		t.Fatalf("first reply: %+v", c)
	}
	if f := c.Fatigue(t0, fatigue); f != 0.25 {
		t.Errorf("fatigue = %v, want 0.25", f)
	}

	// Two fast replies double the multiplier twice, capped at 4.
	c = c.RecordReply(t0.Add(time.Second), fatigue)
	c = c.RecordReply(t0.Add(2*time.Second), fatigue)
	c = c.RecordReply(t0.Add(3*time.Second), fatigue)
	if c.Multiplier != 4 {
		t.Errorf("multiplier = %v, want capped 4", c.Multiplier)
	}
	if f := c.Fatigue(t0.Add(3*time.Second), fatigue); f != 1 {
		t.Errorf("fatigue = %v, want saturated 1", f)
	}

	// A slow reply keeps the multiplier.
	c = c.RecordReply(t0.Add(20*time.Second), fatigue)
	if c.Multiplier != 4 || c.ReplyCount != 5 {
		t.Errorf("slow reply: %+v", c)
	}

	// After the window everything resets.
	later := t0.Add(2 * time.Minute)
	if f := c.Fatigue(later, fatigue); f != 0 {
		t.Errorf("fatigue after window = %v", f)
	}
	c = c.RecordReply(later, fatigue)
	if c.ReplyCount != 1 || c.Multiplier != 1 || !c.WindowStart.Equal(later) {
		t.Errorf("after window: %+v", c)
	}
}

func TestCounters_DisabledFatigue(t *testing.T) {
	c := store.Counters{}.RecordReply(time.Now(), fatigue)
	if f := c.Fatigue(time.Now(), config.FatigueConfig{}); f != 0 {
		t.Errorf("disabled fatigue = %v", f)
	}
	if (store.Counters{}).AgeSec(time.Now()) != nil {
		t.Error("no reply yet must give nil age")
	}
}

func TestFillSignalsAndRecordReply(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	policy := config.Default().Policy
	msg := message.Message{Scene: message.SceneGroup, SenderID: "u1", GroupID: "g1", Text: "hi"}
	t0 := time.Unix(1_700_000_000, 0)

	var sig message.Signals
	if err := store.FillSignals(ctx, s, msg, policy, t0, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.SenderLastReplyAgeSec != nil || sig.IsFollowupAfterBotReply || sig.SenderFatigue != 0 {
		t.Errorf("empty store: %+v", sig)
	}

	if err := store.RecordReply(ctx, s, msg, policy, t0); err != nil {
		t.Fatal(err)
	}

	sig = message.Signals{}
	if err := store.FillSignals(ctx, s, msg, policy, t0.Add(30*time.Second), &sig); err != nil {
		t.Fatal(err)
	}
	if sig.SenderReplyCountWindow != 1 || sig.GroupReplyCountWindow != 1 {
		t.Errorf("counts: %+v", sig)
	}
	if sig.SenderLastReplyAgeSec == nil || *sig.SenderLastReplyAgeSec != 30 {
		t.Errorf("age: %v", sig.SenderLastReplyAgeSec)
	}
	if !sig.IsFollowupAfterBotReply {
		t.Error("a message 30s after a reply is inside the follow-up window")
	}
	if sig.SenderFatigue <= 0 || sig.GroupFatigue <= 0 {
		t.Errorf("fatigue not filled: %+v", sig)
	}

	// Private messages never touch group counters.
	priv := message.Message{Scene: message.ScenePrivate, SenderID: "u2"}
	if err := store.RecordReply(ctx, s, priv, policy, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, store.GroupKey("")); err != store.ErrNotFound {
		t.Errorf("unexpected group counters: %v", err)
	}
}

// slowStore stretches every read-modify-write the way a database round trip would.
type slowStore struct {
	*memory.Store
}

func (s slowStore) Get(ctx context.Context, key string) (store.Counters, error) {
	time.Sleep(50 * time.Microsecond)
	return s.Store.Get(ctx, key)
}

func (s slowStore) Update(ctx context.Context, key string, fn func(store.Counters) store.Counters) (store.Counters, error) {
	return s.Store.Update(ctx, key, func(c store.Counters) store.Counters {
		time.Sleep(50 * time.Microsecond)
		return fn(c)
	})
}

func TestRecordReply_ConcurrentRepliesAreAllCounted(t *testing.T) {
	ctx := context.Background()
	s := slowStore{memory.New()}
	policy := config.Default().Policy
	msg := message.Message{Scene: message.SceneGroup, SenderID: "u1", GroupID: "g1"}
	t0 := time.Unix(1_700_000_000, 0)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := store.RecordReply(ctx, s, msg, policy, t0); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, key := range []string{store.SenderKey("u1"), store.GroupKey("g1")} {
		c, err := s.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if c.ReplyCount != workers*perWorker {
			t.Errorf("%s: ReplyCount = %d, want %d", key, c.ReplyCount, workers*perWorker)
		}
	}
}
