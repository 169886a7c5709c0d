package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

// runningSession tracks one in-flight session's cancel function so the
// scheduler can pre-empt it without marking it failed or cancelled.
type runningSession struct {
	sessionID  string
	artifactID string
	priority   domain.Priority
	cancel     context.CancelFunc
	startedAt  time.Time
	run        func(ctx context.Context)
}

// edgeRuntime holds one edge's concurrency budget: which sessions are
// currently running and which were pre-empted and are waiting for a slot.
type edgeRuntime struct {
	mu             sync.Mutex
	maxConcurrency int
	active         map[string]*runningSession
	paused         []*runningSession
}

func newEdgeRuntime(maxConcurrency int) *edgeRuntime {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &edgeRuntime{
		maxConcurrency: maxConcurrency,
		active:         make(map[string]*runningSession),
	}
}

// tryStart starts run in a new goroutine under a slot for (sessionID,
// artifactID, priority). If the edge is saturated and priority is P0, it
// pre-empts the lowest-priority active session (first P2, then oldest
// P1) and starts in its place. Returns started=false if saturated and no
// slot could be freed.
func (rt *edgeRuntime) tryStart(sessionID, artifactID string, priority domain.Priority, run func(ctx context.Context)) (started bool, err error) {
	rt.mu.Lock()
	if _, already := rt.active[sessionID]; already {
		rt.mu.Unlock()
		return true, nil
	}
	if len(rt.active) < rt.maxConcurrency {
		rt.startLocked(sessionID, artifactID, priority, run)
		rt.mu.Unlock()
		return true, nil
	}
	if priority != domain.PriorityImmediate {
		rt.mu.Unlock()
		return false, nil
	}
	victim := pickPreemptionVictim(rt.active)
	if victim == nil {
		rt.mu.Unlock()
		return false, nil
	}
	victim.cancel()
	delete(rt.active, victim.sessionID)
	rt.paused = append(rt.paused, victim)
	rt.startLocked(sessionID, artifactID, priority, run)
	rt.mu.Unlock()
	return true, nil
}

// startLocked must be called with rt.mu held.
func (rt *edgeRuntime) startLocked(sessionID, artifactID string, priority domain.Priority, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{sessionID: sessionID, artifactID: artifactID, priority: priority, cancel: cancel, startedAt: time.Now(), run: run}
	rt.active[sessionID] = rs
	go run(ctx)
}

// release frees sessionID's slot and, if a pre-empted session is waiting,
// resumes the oldest one in the freed slot.
func (rt *edgeRuntime) release(sessionID string) {
	rt.mu.Lock()
	delete(rt.active, sessionID)
	var resume *runningSession
	var resumeCtx context.Context
	if len(rt.paused) > 0 && len(rt.active) < rt.maxConcurrency {
		resume, rt.paused = rt.paused[0], rt.paused[1:]
		var cancel context.CancelFunc
		resumeCtx, cancel = context.WithCancel(context.Background())
		resume.cancel = cancel
		resume.startedAt = time.Now()
		rt.active[resume.sessionID] = resume
	}
	rt.mu.Unlock()
	if resume != nil {
		go resume.run(resumeCtx)
	}
}

// pickPreemptionVictim selects the session to pause when a P0 arrives on
// a saturated edge: the lone P2 if one exists, else the oldest P1.
// Never selects another P0.
func pickPreemptionVictim(active map[string]*runningSession) *runningSession {
	var p2 *runningSession
	var oldestP1 *runningSession
	for _, rs := range active {
		switch rs.priority {
		case domain.PriorityOnDemand:
			if p2 == nil || rs.startedAt.Before(p2.startedAt) {
				p2 = rs
			}
		case domain.PriorityScheduled:
			if oldestP1 == nil || rs.startedAt.Before(oldestP1.startedAt) {
				oldestP1 = rs
			}
		}
	}
	if p2 != nil {
		return p2
	}
	return oldestP1
}
