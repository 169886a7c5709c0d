package scheduler

import (
	"context"
	"time"
)

// pollInterval bounds how long SyncWindowGate.Wait sleeps between checks
// of whether an edge's sync window has opened.
const pollInterval = 30 * time.Second

// SyncWindowGate blocks non-P0 chunk fetches until the target edge's
// daily sync window is open, satisfying transfer.WindowGate. The engine
// never calls Wait for P0 sessions.
type SyncWindowGate struct {
	Edges EdgeSource
	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

func NewSyncWindowGate(edges EdgeSource) *SyncWindowGate {
	return &SyncWindowGate{Edges: edges, Now: time.Now}
}

func (g *SyncWindowGate) Wait(ctx context.Context, edgeID string) error {
	now := g.Now
	if now == nil {
		now = time.Now
	}
	for {
		edge, err := g.Edges.Get(ctx, edgeID)
		if err != nil {
			return err
		}
		if edge.SyncWindow.Contains(now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
