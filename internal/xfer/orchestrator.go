package xfer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fathomrelay/jend/internal/config"
	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/internal/progress"
)

// aggregateFileIndex marks a FileProgress event as the session-wide
// aggregate (sum of every file's bytes) rather than one file's own
// progress, per spec.md §4.6's aggregation rule.
const aggregateFileIndex = -1

// aggregateInterval is the minimum cadence for session-level progress
// while streaming, independent of any one file's own throttle.
const aggregateInterval = 500 * time.Millisecond

// Orchestrator drives TransferSessions to completion, bounding how many
// files hash or stream at once (K) and how many sessions run at once
// across the process (S). The K permits form one pool shared by every
// session this Orchestrator drives; there is no separate per-session pool.
type Orchestrator struct {
	fileSem    *semaphore.Weighted
	sessionSem *semaphore.Weighted
	bus        *progress.Bus
}

// NewOrchestrator builds an Orchestrator honoring cfg's concurrency
// settings (falling back to spec.md's K=5, S=4 defaults via
// cfg.WithDefaults).
func NewOrchestrator(cfg config.Config, bus *progress.Bus) *Orchestrator {
	cfg = cfg.WithDefaults()
	return &Orchestrator{
		fileSem:    semaphore.NewWeighted(int64(cfg.DefaultConcurrency)),
		sessionSem: semaphore.NewWeighted(int64(cfg.MaxSessions)),
		bus:        bus,
	}
}

// SendSession preflights and streams files to a connected peer,
// gated by the process-wide session cap.
func (o *Orchestrator) SendSession(ctx context.Context, conn Conn, files []PendingFile) (*Result, error) {
	if err := o.sessionSem.Acquire(ctx, 1); err != nil {
		return nil, &errs.CancelledError{Reason: "cancelled waiting for a session slot"}
	}
	defer o.sessionSem.Release(1)

	sessionID := newSessionID()
	stopAgg := o.runAggregator(sessionID)
	defer stopAgg()

	return Send(ctx, conn, sessionID, files, o.fileSem, o.bus)
}

// AcceptSession runs the receiver side of one incoming session,
// gated the same way as SendSession. decide is consulted once per
// SessionOffer to apply local policy (disk space, user prompt, etc.)
// on top of the built-in size/count checks.
func (o *Orchestrator) AcceptSession(ctx context.Context, conn Conn, downloadDir string, policy Policy, decide func(SessionOffer) bool) (*Result, error) {
	if err := o.sessionSem.Acquire(ctx, 1); err != nil {
		return nil, &errs.CancelledError{Reason: "cancelled waiting for a session slot"}
	}
	defer o.sessionSem.Release(1)

	return Receive(ctx, conn, downloadDir, policy, o.fileSem, o.bus, decide)
}

// CancelSession actively aborts a session this Orchestrator is currently
// driving (sender or receiver side), per spec.md §4.5/§5's Cancellation
// subsystem. It reports false if sessionID isn't currently streaming.
func (o *Orchestrator) CancelSession(sessionID, reason string) bool {
	return CancelSession(sessionID, reason)
}

// runAggregator subscribes to the bus and republishes a session-wide
// FileProgress sum at most every aggregateInterval while the session
// streams, per spec.md §4.6. It stops once SessionEnd is seen for this
// session or the returned stop func is called.
func (o *Orchestrator) runAggregator(sessionID string) func() {
	ch, unsubscribe := o.bus.Subscribe("aggregator:" + sessionID)

	var mu sync.Mutex
	doneCh := make(chan struct{})
	perFileDone := map[int]bool{}
	perFileBytes := map[int]int64{}
	perFileTotal := map[int]int64{}

	go func() {
		ticker := time.NewTicker(aggregateInterval)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.SessionID != sessionID {
					continue
				}
				switch ev.Kind {
				case progress.KindFileProgress:
					if ev.FileIndex == aggregateFileIndex {
						continue
					}
					mu.Lock()
					perFileBytes[ev.FileIndex] = ev.BytesDone
					perFileTotal[ev.FileIndex] = ev.TotalBytes
					mu.Unlock()
				case progress.KindFileAck:
					mu.Lock()
					perFileDone[ev.FileIndex] = true
					perFileBytes[ev.FileIndex] = ev.TotalBytes
					perFileTotal[ev.FileIndex] = ev.TotalBytes
					mu.Unlock()
				case progress.KindSessionEnd:
					o.publishAggregate(sessionID, &perFileBytes, &perFileTotal, &mu)
					close(doneCh)
					return
				}
			case <-ticker.C:
				o.publishAggregate(sessionID, &perFileBytes, &perFileTotal, &mu)
			case <-doneCh:
				return
			}
		}
	}()

	return func() {
		unsubscribe()
	}
}

func (o *Orchestrator) publishAggregate(sessionID string, bytes, total *map[int]int64, mu *sync.Mutex) {
	mu.Lock()
	var sumBytes, sumTotal int64
	for idx, b := range *bytes {
		sumBytes += b
		sumTotal += (*total)[idx]
	}
	mu.Unlock()
	o.bus.Publish(progress.Event{
		Kind:       progress.KindFileProgress,
		SessionID:  sessionID,
		FileIndex:  aggregateFileIndex,
		BytesDone:  sumBytes,
		TotalBytes: sumTotal,
	})
}
