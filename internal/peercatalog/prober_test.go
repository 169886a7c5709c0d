package peercatalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

type staticTargets struct{ edges []domain.EdgeNode }

func (s staticTargets) List(context.Context) ([]domain.EdgeNode, error) { return s.edges, nil }

func TestProberSkipsSelfAndRecordsSamples(t *testing.T) {
	cat := New(newMemStore(), nil)
	ctx := context.Background()

	probed := make(map[string]bool)
	p := &Prober{
		Catalog: cat,
		Source:  "hub",
		Targets: staticTargets{edges: []domain.EdgeNode{{ID: "hub"}, {ID: "edge-1"}, {ID: "edge-2"}}},
		Probe: func(_ context.Context, target domain.EdgeNode) (float64, float64, error) {
			probed[target.ID] = true
			if target.ID == "edge-2" {
				return 0, 0, errors.New("unreachable")
			}
			return 15, 0, nil
		},
	}

	p.probeAll(ctx)

	assert.False(t, probed["hub"], "the prober must never probe itself")
	assert.True(t, probed["edge-1"])
	assert.True(t, probed["edge-2"])

	conns, err := cat.PeersOf(ctx, "hub")
	require.NoError(t, err)
	require.Len(t, conns, 1, "only the reachable edge should be an active peer")
	assert.Equal(t, "edge-1", conns[0].Target)

	failed, err := cat.store.(*memStore).GetConnection(ctx, "hub", "edge-2")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, uint64(1), failed.FailureCount)
}

func TestProberRunStopsOnContextCancel(t *testing.T) {
	cat := New(newMemStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan struct{}, 8)
	p := &Prober{
		Catalog:  cat,
		Source:   "hub",
		Targets:  staticTargets{edges: []domain.EdgeNode{{ID: "edge-1"}}},
		Interval: time.Millisecond,
		Probe: func(context.Context, domain.EdgeNode) (float64, float64, error) {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return 1, 1, nil
		},
	}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("prober never ticked")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
