// Package transfer drives one (target, artifact) download to a terminal
// state: opens a session, runs assignment waves through
// internal/assign, fetches and verifies each chunk, and finalizes by
// recomputing the whole-artifact digest.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/assign"
	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/bitfield"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkFetchTimeout = 120 * time.Second
	DefaultMaxSessionAge     = 24 * time.Hour
)

// PeerSource resolves the current candidate peer set for a session's
// artifact — active connections from internal/peercatalog joined with
// internal/availability bitfields.
type PeerSource interface {
	CandidatesFor(ctx context.Context, artifactID string) ([]assign.Peer, error)
}

// ManifestSource resolves an artifact's chunk manifest, used both to open
// a session and to look up each chunk's expected digest during transfer.
type ManifestSource interface {
	ManifestFor(ctx context.Context, artifactID string) (*manifest.Manifest, error)
}

// BandwidthGate enforces the per-edge token bucket before a
// chunk fetch is allowed to start. nil disables gating (e.g. in tests).
type BandwidthGate interface {
	Acquire(ctx context.Context, edgeID string, n int) error
}

// WindowGate blocks until the target edge's sync window is open. Never
// consulted for P0 sessions. nil disables gating.
type WindowGate interface {
	Wait(ctx context.Context, edgeID string) error
}

// EdgeRecorder persists the per-edge chunk-outcome bookkeeping I4
// requires: consecutive_failures resets to 0 on any successful chunk
// transfer, and backoff_until is the monotonic max of previously
// scheduled backoffs. nil disables persistence (e.g. in tests); a
// concrete implementation lives in internal/store, where the same
// EdgeNode row also backs scheduler.EdgeSource.
type EdgeRecorder interface {
	Get(ctx context.Context, edgeID string) (domain.EdgeNode, error)
	Put(ctx context.Context, edge domain.EdgeNode) error
}

// Assembler finalizes a fully-verified session: recomputes the
// whole-artifact digest from the persisted chunks. A concrete
// implementation lives in internal/store, reading chunks back in index
// order from the local cache.
type Assembler interface {
	Finalize(ctx context.Context, artifactID string, totalChunks uint32) (digestHex string, err error)
}

// Options configures one Engine instance. Zero values fall back to
// package defaults.
type Options struct {
	MaxConcurrentChunkDownloads int
	RarestFirstThreshold        float64
	MaxBackoffSecs              int
	ChunkFetchTimeout           time.Duration
	MaxSessionAge               time.Duration
	// Priority is this session's resolved effective priority. P0 sessions
	// bypass sync-window gating.
	Priority domain.Priority
}

func (o Options) chunkTimeout() time.Duration {
	if o.ChunkFetchTimeout <= 0 {
		return DefaultChunkFetchTimeout
	}
	return o.ChunkFetchTimeout
}

func (o Options) maxSessionAge() time.Duration {
	if o.MaxSessionAge <= 0 {
		return DefaultMaxSessionAge
	}
	return o.MaxSessionAge
}

func (o Options) maxBackoffSecs() int {
	if o.MaxBackoffSecs <= 0 {
		return DefaultMaxBackoffSecs
	}
	return o.MaxBackoffSecs
}

// Engine drives transfer sessions. One Engine is shared across sessions on
// an edge; per-session mutable state (blacklists, retry counters) lives in
// an internal runtime map keyed by session id and is discarded on
// terminal transition, matching "blacklists do not leak across sessions".
type Engine struct {
	Store        SessionStore
	Availability *availability.Registry
	Peers        PeerSource
	Manifests    ManifestSource
	Router       Router
	Sink         ChunkSink
	Assembler    Assembler
	Bandwidth    BandwidthGate
	Window       WindowGate
	Edges        EdgeRecorder
	Log          *logrus.Logger

	// Metrics is optional; nil disables all metric recording.
	Metrics *metrics.Replication

	runtimes runtimeTable
}

func NewEngine(store SessionStore, avail *availability.Registry, peers PeerSource, manifests ManifestSource, router Router, sink ChunkSink, assembler Assembler) *Engine {
	return &Engine{
		Store:        store,
		Availability: avail,
		Peers:        peers,
		Manifests:    manifests,
		Router:       router,
		Sink:         sink,
		Assembler:    assembler,
		Log:          logrus.StandardLogger(),
		runtimes:     newRuntimeTable(),
	}
}

// Open acquires the manifest, inserts pending chunk rows, and marks the
// session active. It is a no-op if the session already has chunk rows
// (resuming after a restart).
func (e *Engine) Open(ctx context.Context, sess domain.TransferSession, man *manifest.Manifest) error {
	existing, err := e.Store.GetChunks(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for _, cd := range man.Chunks {
			if err := e.Store.SaveChunk(ctx, domain.TransferChunk{
				SessionID:  sess.ID,
				ChunkIndex: cd.Index,
				Status:     domain.ChunkPending,
			}); err != nil {
				return err
			}
		}
	}
	sess.Status = domain.SessionActive
	sess.TotalChunks = man.TotalChunks
	sess.ChunkSize = man.ChunkSize
	sess.ArtifactDigest = man.ArtifactDigest
	e.recordStatus(sess.Status)
	return e.Store.SaveSession(ctx, sess)
}

func (e *Engine) recordStatus(status domain.SessionStatus) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.SessionsByStatus.WithLabelValues(string(status)).Inc()
}

// Run drives the session to a terminal state, running assignment waves
// until every chunk is verified, a terminal failure condition triggers, or
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sessionID string, opts Options) error {
	rt := e.runtimes.get(sessionID)
	defer e.runtimes.delete(sessionID)

	for {
		sess, err := e.Store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return apierr.New(apierr.NotFound, fmt.Sprintf("transfer session %s not found", sessionID))
		}
		if isTerminal(sess.Status) {
			return nil
		}
		if time.Since(sess.CreatedAt) > opts.maxSessionAge() {
			return e.fail(ctx, *sess, apierr.New(apierr.PreemptedPaused, "session exceeded maximum age"))
		}

		chunks, err := e.Store.GetChunks(ctx, sessionID)
		if err != nil {
			return err
		}
		if allVerified(chunks) {
			return e.finalize(ctx, *sess)
		}

		man, err := e.Manifests.ManifestFor(ctx, sess.ArtifactID)
		if err != nil {
			return err
		}

		ownBF, err := ownBitfield(sess.TotalChunks, chunks)
		if err != nil {
			return err
		}

		peers, err := e.Peers.CandidatesFor(ctx, sess.ArtifactID)
		if err != nil {
			return err
		}

		rt.mu.Lock()
		assignOpts := assign.Options{
			MaxConcurrentChunkDownloads: opts.MaxConcurrentChunkDownloads,
			RarestFirstThreshold:        opts.RarestFirstThreshold,
			Blacklisted:                 cloneBoolMap(rt.blacklisted),
			AvoidForChunk:               cloneUintMap(rt.avoidForChunk),
		}
		rt.mu.Unlock()

		assignment := assign.Assign(ownBF, peers, assignOpts)
		if len(assignment) == 0 {
			if allBlacklisted(peers, rt) && !allVerified(chunks) {
				return e.fail(ctx, *sess, apierr.New(apierr.ResourceExhausted, "all candidate peers blacklisted for this session"))
			}
			return apierr.New(apierr.ResourceExhausted, "no eligible peer holds any needed chunk")
		}

		if err := e.runWave(ctx, *sess, opts, man, assignment, rt); err != nil {
			return err
		}
	}
}

// runWave fetches every assigned chunk in the wave concurrently, bounded
// by MaxConcurrentChunkDownloads via errgroup.
func (e *Engine) runWave(ctx context.Context, sess domain.TransferSession, opts Options, man *manifest.Manifest, assignment assign.Assignment, rt *sessionRuntime) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.maxSlots())

	for peerID, indices := range assignment {
		for _, idx := range indices {
			peerID, idx := peerID, idx
			g.Go(func() error {
				return e.fetchAndVerify(gctx, sess, opts, man, peerID, idx, rt)
			})
		}
	}
	if err := g.Wait(); err != nil {
		// A single chunk's exhausted retries does not fail the session; only
		// context cancellation (caller shutdown) propagates here.
		if ctx.Err() != nil {
			return err
		}
		e.Log.WithError(err).Warn("chunk fetch wave reported an error")
	}
	return nil
}

func (o Options) maxSlots() int {
	if o.MaxConcurrentChunkDownloads <= 0 {
		return assign.DefaultMaxConcurrentChunkDownloads
	}
	return o.MaxConcurrentChunkDownloads
}

func (e *Engine) fetchAndVerify(ctx context.Context, sess domain.TransferSession, opts Options, man *manifest.Manifest, peerID string, index uint32, rt *sessionRuntime) error {
	log := e.Log.WithFields(logrus.Fields{"session": sess.ID, "artifact": sess.ArtifactID, "chunk": index, "peer": peerID})

	if opts.Priority != domain.PriorityImmediate && e.Window != nil {
		if err := e.Window.Wait(ctx, sess.TargetNode); err != nil {
			return err
		}
	}

	priorAttempts := 0
	if chunks, err := e.Store.GetChunks(ctx, sess.ID); err == nil {
		for _, c := range chunks {
			if c.ChunkIndex == index {
				priorAttempts = c.Attempts
				break
			}
		}
	}

	now := time.Now()
	_ = e.Store.SaveChunk(ctx, domain.TransferChunk{
		SessionID: sess.ID, ChunkIndex: index, Status: domain.ChunkDownloading,
		SourcePeer: peerID, StartedAt: &now, Attempts: priorAttempts,
	})

	fetchCtx, cancel := context.WithTimeout(ctx, opts.chunkTimeout())
	defer cancel()

	fetcher := e.Router.FetcherFor(peerID)
	if fetcher == nil {
		return e.recordChunkFailure(ctx, sess, opts, peerID, index, rt, fmt.Errorf("no fetcher route for peer %s", peerID))
	}

	if e.Bandwidth != nil {
		waitStart := time.Now()
		expectedLen := chunkByteLength(man, index)
		err := e.Bandwidth.Acquire(fetchCtx, sess.TargetNode, expectedLen)
		if e.Metrics != nil {
			e.Metrics.BandwidthGateWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
		if err != nil {
			return e.recordChunkFailure(ctx, sess, opts, peerID, index, rt, err)
		}
	}

	data, err := fetcher.FetchChunk(fetchCtx, peerID, sess.ArtifactID, index)
	if err != nil {
		log.WithError(err).Debug("chunk fetch failed")
		return e.recordChunkFailure(ctx, sess, opts, peerID, index, rt, err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	expectedDigest, ok := man.DigestByIndex(index)
	if !ok || digest != expectedDigest {
		log.Warn("chunk digest mismatch")
		return e.recordChunkFailure(ctx, sess, opts, peerID, index, rt,
			apierr.New(apierr.IntegrityError, fmt.Sprintf("chunk %d digest mismatch", index)))
	}

	if err := e.Sink.WriteChunk(ctx, sess.ArtifactID, index, data); err != nil {
		return e.recordChunkFailure(ctx, sess, opts, peerID, index, rt, err)
	}
	if err := e.Availability.RecordChunk(ctx, sess.TargetNode, sess.ArtifactID, sess.TotalChunks, index); err != nil {
		return err
	}
	if err := e.Store.SaveChunk(ctx, domain.TransferChunk{
		SessionID: sess.ID, ChunkIndex: index, Status: domain.ChunkVerified, SourcePeer: peerID,
	}); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.BytesTransferred.Add(float64(len(data)))
	}
	if e.Edges != nil {
		if err := e.resetEdgeFailures(ctx, peerID); err != nil {
			log.WithError(err).Warn("failed to persist edge consecutive-failure reset")
		}
	}

	rt.mu.Lock()
	rt.consecFail[peerID] = 0
	delete(rt.avoidForChunk, index)
	rt.mu.Unlock()
	return nil
}

func (e *Engine) recordChunkFailure(ctx context.Context, sess domain.TransferSession, opts Options, peerID string, index uint32, rt *sessionRuntime, cause error) error {
	rt.mu.Lock()
	rt.consecFail[peerID]++
	fails := rt.consecFail[peerID]
	newlyBlacklisted := fails == ConsecutiveFailuresBeforeBlacklist
	if fails >= ConsecutiveFailuresBeforeBlacklist {
		rt.blacklisted[peerID] = true
	}
	rt.avoidForChunk[index] = peerID
	rt.mu.Unlock()

	if e.Metrics != nil && newlyBlacklisted {
		e.Metrics.PeerBlacklistEvents.Inc()
	}

	chunks, err := e.Store.GetChunks(ctx, sess.ID)
	attempts := 1
	if err == nil {
		for _, c := range chunks {
			if c.ChunkIndex == index {
				attempts = c.Attempts + 1
				break
			}
		}
	}
	if e.Metrics != nil && attempts > 1 {
		e.Metrics.ChunkRetries.Inc()
	}

	saveErr := e.Store.SaveChunk(ctx, domain.TransferChunk{
		SessionID: sess.ID, ChunkIndex: index, Status: domain.ChunkFailed,
		SourcePeer: peerID, Attempts: attempts, LastError: cause.Error(),
	})
	if saveErr != nil {
		return saveErr
	}

	delay := Backoff(attempts, opts.maxBackoffSecs())
	if e.Edges != nil {
		if err := e.bumpEdgeBackoff(ctx, peerID, delay); err != nil {
			e.Log.WithError(err).Warn("failed to persist edge backoff")
		}
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// resetEdgeFailures clears edgeID's consecutive-failure count on a
// successful chunk transfer, per I4.
func (e *Engine) resetEdgeFailures(ctx context.Context, edgeID string) error {
	edge, err := e.Edges.Get(ctx, edgeID)
	if err != nil {
		return err
	}
	if edge.ConsecutiveFailures == 0 {
		return nil
	}
	edge.ConsecutiveFailures = 0
	return e.Edges.Put(ctx, edge)
}

// bumpEdgeBackoff increments edgeID's consecutive-failure count and
// advances backoff_until to the monotonic max of its previous value and
// now+delay, per I4.
func (e *Engine) bumpEdgeBackoff(ctx context.Context, edgeID string, delay time.Duration) error {
	edge, err := e.Edges.Get(ctx, edgeID)
	if err != nil {
		return err
	}
	edge.ConsecutiveFailures++
	candidate := time.Now().Add(delay)
	if candidate.After(edge.BackoffUntil) {
		edge.BackoffUntil = candidate
	}
	return e.Edges.Put(ctx, edge)
}

func (e *Engine) finalize(ctx context.Context, sess domain.TransferSession) error {
	digest, err := e.Assembler.Finalize(ctx, sess.ArtifactID, sess.TotalChunks)
	if err != nil {
		return e.fail(ctx, sess, err)
	}
	if digest != sess.ArtifactDigest {
		if resetErr := e.resetChunksToPending(ctx, sess.ID); resetErr != nil {
			e.Log.WithError(resetErr).Warn("failed to reset chunks after digest mismatch")
		}
		return e.fail(ctx, sess, apierr.New(apierr.IntegrityError, "whole-artifact digest mismatch after assembly"))
	}
	now := time.Now()
	sess.Status = domain.SessionCompleted
	sess.CompletedAt = &now
	e.recordStatus(sess.Status)
	return e.Store.SaveSession(ctx, sess)
}

func (e *Engine) resetChunksToPending(ctx context.Context, sessionID string) error {
	chunks, err := e.Store.GetChunks(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		c.Status = domain.ChunkPending
		c.Attempts = 0
		if err := e.Store.SaveChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, sess domain.TransferSession, cause error) error {
	sess.Status = domain.SessionFailed
	sess.ErrorMessage = cause.Error()
	e.recordStatus(sess.Status)
	if err := e.Store.SaveSession(ctx, sess); err != nil {
		return err
	}
	return cause
}

// Cancel marks a session cancelled; already-verified chunks and bits stay
// verified so a future session for the same (target, artifact) resumes
// from them.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	sess, err := e.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return apierr.New(apierr.NotFound, fmt.Sprintf("transfer session %s not found", sessionID))
	}
	if isTerminal(sess.Status) {
		return nil
	}
	sess.Status = domain.SessionCancelled
	e.recordStatus(sess.Status)
	e.runtimes.delete(sessionID)
	return e.Store.SaveSession(ctx, *sess)
}

func isTerminal(s domain.SessionStatus) bool {
	return s == domain.SessionCompleted || s == domain.SessionFailed || s == domain.SessionCancelled
}

func allVerified(chunks []domain.TransferChunk) bool {
	if len(chunks) == 0 {
		return false
	}
	for _, c := range chunks {
		if c.Status != domain.ChunkVerified {
			return false
		}
	}
	return true
}

func allBlacklisted(peers []assign.Peer, rt *sessionRuntime) bool {
	if len(peers) == 0 {
		return true
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, p := range peers {
		if !rt.blacklisted[p.ID] {
			return false
		}
	}
	return true
}

func ownBitfield(total uint32, chunks []domain.TransferChunk) (*bitfield.Bitfield, error) {
	bf := bitfield.New(total)
	for _, c := range chunks {
		if c.Status == domain.ChunkVerified {
			bf.Set(c.ChunkIndex)
		}
	}
	return bf, nil
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUintMap(m map[uint32]string) map[uint32]string {
	out := make(map[uint32]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func chunkByteLength(man *manifest.Manifest, index uint32) int {
	for _, cd := range man.Chunks {
		if cd.Index == index {
			return int(cd.ByteLength)
		}
	}
	return int(man.ChunkSize)
}
