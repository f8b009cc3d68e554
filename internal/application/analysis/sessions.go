package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// SessionHandle pairs a session with its exclusion gate. Generation calls
// (and the adapter swaps they may trigger) acquire the gate for their whole
// duration; there are no read-only accesses, so readers-writers collapses to
// plain mutual exclusion.
type SessionHandle struct {
	session domain.Session
	sem     *semaphore.Weighted
}

func newHandle(s domain.Session) *SessionHandle {
	return &SessionHandle{session: s, sem: semaphore.NewWeighted(1)}
}

func (h *SessionHandle) acquire(ctx context.Context) error { return h.sem.Acquire(ctx, 1) }
func (h *SessionHandle) release()                          { h.sem.Release(1) }

// SessionPool maps modes onto session handles. With a single loaded model
// both modes share one handle (and therefore one gate); with enough VRAM the
// caller can register one session per mode and the passes run without
// interference. Capacity is the caller's decision, not the session's.
type SessionPool struct {
	handles map[domain.Mode]*SessionHandle
}

// SinglePool shares one session between both modes.
func SinglePool(s domain.Session) *SessionPool {
	h := newHandle(s)
	return &SessionPool{handles: map[domain.Mode]*SessionHandle{
		domain.ModeExclude:   h,
		domain.ModeSensitive: h,
	}}
}

// PerModePool registers an independent session per mode.
func PerModePool(exclude, sensitive domain.Session) *SessionPool {
	return &SessionPool{handles: map[domain.Mode]*SessionHandle{
		domain.ModeExclude:   newHandle(exclude),
		domain.ModeSensitive: newHandle(sensitive),
	}}
}

// Handle resolves the session for a mode. A missing session is the fatal
// fail-fast condition for a run.
func (p *SessionPool) Handle(mode domain.Mode) (*SessionHandle, error) {
	if p == nil {
		return nil, domain.ErrSessionUnavailable
	}
	h, ok := p.handles[mode]
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: no session for mode %s", domain.ErrSessionUnavailable, mode)
	}
	return h, nil
}

// Close shuts down every distinct session in the pool.
func (p *SessionPool) Close() error {
	if p == nil {
		return nil
	}
	closed := make(map[*SessionHandle]struct{}, len(p.handles))
	var first error
	for _, h := range p.handles {
		if _, done := closed[h]; done {
			continue
		}
		closed[h] = struct{}{}
		if err := h.session.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
