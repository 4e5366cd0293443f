package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/message"
)

// ErrNotFound is returned by Get when a key has no counters yet.
var ErrNotFound = errors.New("counters not found")

// CounterStore persists reply counters per conversation key. The decision
// engine never writes to it; orchestrators read it to fill signals and record
// replies they actually sent.
type CounterStore interface {
	Get(ctx context.Context, key string) (Counters, error)
	Set(ctx context.Context, key string, c Counters) error
	// Update applies fn to the stored counters (zero when missing) and saves
	// the result atomically with respect to other Updates of the same key.
	Update(ctx context.Context, key string, fn func(Counters) Counters) (Counters, error)
	Close() error
}

// SenderKey and GroupKey build counter keys.
func SenderKey(id string) string { return "sender:" + id }
func GroupKey(id string) string  { return "group:" + id }

// Counters is the windowed reply bookkeeping of one sender or group.
type Counters struct {
	WindowStart time.Time `json:"window_start"`
	ReplyCount  int       `json:"reply_count"`
	LastReplyAt time.Time `json:"last_reply_at"`
	// Multiplier grows by the backoff factor when replies come faster than the
	// minimum interval, shrinking the effective limit.
	Multiplier float64 `json:"multiplier"`
}

func (c Counters) multiplier() float64 {
	if c.Multiplier < 1 {
		return 1
	}
	return c.Multiplier
}

// Decay resets the window once it has elapsed.
func (c Counters) Decay(now time.Time, f config.FatigueConfig) Counters {
	window := time.Duration(f.WindowMs) * time.Millisecond
	if c.WindowStart.IsZero() || (window > 0 && now.Sub(c.WindowStart) >= window) {
		c.WindowStart = now
		c.ReplyCount = 0
		c.Multiplier = 1
	}
	return c
}

// RecordReply counts one reply sent at now.
func (c Counters) RecordReply(now time.Time, f config.FatigueConfig) Counters {
	c = c.Decay(now, f)
	m := c.multiplier()
	minGap := time.Duration(f.MinIntervalMs) * time.Millisecond
	if !c.LastReplyAt.IsZero() && minGap > 0 && now.Sub(c.LastReplyAt) < minGap && f.BackoffFactor > 1 {
		m *= f.BackoffFactor
		if f.MaxBackoffMultiplier >= 1 {
			m = math.Min(m, f.MaxBackoffMultiplier)
		}
	}
	c.Multiplier = m
	c.ReplyCount++
	c.LastReplyAt = now
	return c
}

// Fatigue is the reply count relative to the backoff-reduced limit, in [0,1].
func (c Counters) Fatigue(now time.Time, f config.FatigueConfig) float64 {
	if !f.Enabled || f.BaseLimit <= 0 {
		return 0
	}
	c = c.Decay(now, f)
	limit := float64(f.BaseLimit) / c.multiplier()
	return math.Min(1, float64(c.ReplyCount)/limit)
}

// AgeSec returns seconds since the last reply, or nil when there was none.
func (c Counters) AgeSec(now time.Time) *float64 {
	if c.LastReplyAt.IsZero() {
		return nil
	}
	age := math.Max(0, now.Sub(c.LastReplyAt).Seconds())
	return &age
}

// Load returns the counters for key, zero when missing.
func Load(ctx context.Context, s CounterStore, key string) (Counters, error) {
	c, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Counters{}, nil
	}
	return c, err
}

// FillSignals sets the counter-derived fields of sig from stored counters.
// Mention and task fields are left to the caller. IsFollowupAfterBotReply is
// only ever raised, never cleared.
func FillSignals(ctx context.Context, s CounterStore, msg message.Message, p config.PolicyConfig, now time.Time, sig *message.Signals) error {
	sc, err := Load(ctx, s, SenderKey(msg.SenderID))
	if err != nil {
		return err
	}
	sc = sc.Decay(now, p.UserFatigue)
	sig.SenderReplyCountWindow = float64(sc.ReplyCount)
	sig.SenderFatigue = sc.Fatigue(now, p.UserFatigue)
	sig.SenderLastReplyAgeSec = sc.AgeSec(now)

	if age := sig.SenderLastReplyAgeSec; age != nil && p.FollowupWindowSec > 0 && *age <= float64(p.FollowupWindowSec) {
		sig.IsFollowupAfterBotReply = true
	}

	if !msg.IsGroup() || msg.GroupID == "" {
		return nil
	}
	gc, err := Load(ctx, s, GroupKey(msg.GroupID))
	if err != nil {
		return err
	}
	gc = gc.Decay(now, p.GroupFatigue)
	sig.GroupReplyCountWindow = float64(gc.ReplyCount)
	sig.GroupFatigue = gc.Fatigue(now, p.GroupFatigue)
	sig.GroupLastReplyAgeSec = gc.AgeSec(now)
	return nil
}

// RecordReply updates sender and group counters after a reply was sent.
func RecordReply(ctx context.Context, s CounterStore, msg message.Message, p config.PolicyConfig, now time.Time) error {
	if _, err := s.Update(ctx, SenderKey(msg.SenderID), func(c Counters) Counters {
		return c.RecordReply(now, p.UserFatigue)
	}); err != nil {
		return err
	}
	if !msg.IsGroup() || msg.GroupID == "" {
		return nil
	}
	_, err := s.Update(ctx, GroupKey(msg.GroupID), func(c Counters) Counters {
		return c.RecordReply(now, p.GroupFatigue)
	})
	return err
}
