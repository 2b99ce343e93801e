package transport

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type modeKind int

const (
	modeUnknown modeKind = iota
	modeHTTP
	modeSSE
)

func (k modeKind) String() string {
	switch k {
	case modeHTTP:
		return "http"
	case modeSSE:
		return "sse"
	default:
		return "unknown"
	}
}

// transportMode is the wire dialect a handle speaks. sessionID is only
// meaningful for modeHTTP and endpoint only for modeSSE.
type transportMode struct {
	kind      modeKind
	sessionID string
	endpoint  string
}

func httpMode(sessionID string) transportMode {
	return transportMode{kind: modeHTTP, sessionID: sessionID}
}

func sseMode(endpoint string) transportMode {
	return transportMode{kind: modeSSE, endpoint: endpoint}
}

// canBecome reports whether the mode may move to next. Unknown resolves
// once; Http may pick up a new session id; SSE is final. A session-less Http
// mode may still drop to SSE when a legacy server answers the first POST with
// an endpoint event.
func (m transportMode) canBecome(next transportMode) bool {
	switch m.kind {
	case modeUnknown:
		return next.kind != modeUnknown
	case modeHTTP:
		return next.kind == modeHTTP || (next.kind == modeSSE && m.sessionID == "")
	default:
		return false
	}
}

// sequencer runs sends one at a time, in arrival order. Acquire on a
// weighted semaphore is FIFO, which gives the ordering.
type sequencer struct {
	sem *semaphore.Weighted
}

func newSequencer() *sequencer {
	return &sequencer{sem: semaphore.NewWeighted(1)}
}

func (s *sequencer) do(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn()
}
