package scoring

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// SourceFunc returns the current override source text.
type SourceFunc func() string

type snapshot struct {
	source string
	model  *Model
}

// Snapshotter caches the scoring model built from an override source. A
// changed source triggers one reload; concurrent reloads of the same source
// collapse into a single parse. A source that fails to parse leaves the last
// good model in place; only the latest failing source is remembered, so it is
// logged once until a different source fails.
type Snapshotter struct {
	base    *Model
	source  SourceFunc
	current atomic.Pointer[snapshot]
	group   singleflight.Group

	mu  sync.Mutex
	bad string // last source that failed to parse
}

// NewSnapshotter starts from base (DefaultModel if nil). source may be nil,
// in which case the model changes only through Update.
func NewSnapshotter(base *Model, source SourceFunc) *Snapshotter {
	if base == nil {
		base = DefaultModel()
	}
	s := &Snapshotter{base: base, source: source}
	s.current.Store(&snapshot{model: base})
	return s
}

// Current returns the model for the current source. Callers should capture it
// once per decision.
func (s *Snapshotter) Current() *Model {
	if s.source == nil {
		return s.current.Load().model
	}
	m, _ := s.Update(s.source())
	return m
}

// Update makes src the active source. It returns the active model and, when
// src failed to parse, an error wrapping ErrConfigParse.
func (s *Snapshotter) Update(src string) (*Model, error) {
	src = strings.TrimSpace(src)
	cur := s.current.Load()
	if cur.source == src {
		return cur.model, nil
	}
	if s.isBad(src) {
		return cur.model, ErrConfigParse
	}

	v, err, _ := s.group.Do(src, func() (interface{}, error) {
		o, err := ParseOverride(src)
		if err != nil {
			return nil, err
		}
		snap := &snapshot{source: src, model: Merge(s.base, o)}
		s.current.Store(snap)
		slog.Info("scoring.model.loaded", "version", snap.model.Version,
			"low", snap.model.Thresholds.Low, "high", snap.model.Thresholds.High)
		return snap.model, nil
	})
	if err != nil {
		s.markBad(src, err)
		return s.current.Load().model, err
	}
	return v.(*Model), nil
}

func (s *Snapshotter) isBad(src string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad != "" && s.bad == src
}

func (s *Snapshotter) markBad(src string, err error) {
	s.mu.Lock()
	first := s.bad != src
	s.bad = src
	s.mu.Unlock()
	if first {
		slog.Warn("scoring.model.parse_failed", "error", err, "keeping_version", s.current.Load().model.Version)
	}
}
