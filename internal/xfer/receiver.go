package xfer

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/internal/hasher"
	"github.com/fathomrelay/jend/internal/progress"
	"github.com/fathomrelay/jend/internal/sanitize"
	"github.com/fathomrelay/jend/pkg/protocol"
)

// SessionOffer is what a receiver's decide callback evaluates: the
// proposed session stripped down to what a human (or an automated
// policy) needs to approve or reject it.
type SessionOffer struct {
	SessionID  string
	FileCount  int
	TotalBytes int64
	FileNames  []string
}

// Receive drives the receiver side of one TransferSession: it reads
// SessionBegin, applies policy (size/count caps, then decide), and on
// acceptance streams every file to <download_dir>/<name>.part, renaming
// on a verified FileAck.
func Receive(ctx context.Context, conn Conn, downloadDir string, policy Policy, fileSem *semaphore.Weighted, bus *progress.Bus, decide func(SessionOffer) bool) (*Result, error) {
	control, err := conn.AcceptBi(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "accept_control", Reason: "cannot accept control stream", Err: err}
	}
	cc := newControlChannel(control)

	begin, err := cc.waitSessionBegin(ctx)
	if err != nil {
		return nil, err
	}

	if reason, ok := checkPolicy(begin, policy); !ok {
		cc.write(protocol.TypeSessionAck, protocol.SessionAck{Accepted: false, Reason: reason})
		return &Result{SessionID: begin.SessionID, State: StateRejected}, &errs.PolicyError{Reason: reason}
	}

	names := make([]string, len(begin.Files))
	var total int64
	for i, f := range begin.Files {
		names[i] = f.LogicalName
		total += f.Size
	}
	if decide != nil && !decide(SessionOffer{SessionID: begin.SessionID, FileCount: len(begin.Files), TotalBytes: total, FileNames: names}) {
		cc.write(protocol.TypeSessionAck, protocol.SessionAck{Accepted: false, Reason: "declined by user"})
		return &Result{SessionID: begin.SessionID, State: StateRejected}, &errs.PolicyError{Reason: "declined by user"}
	}

	if err := cc.write(protocol.TypeSessionAck, protocol.SessionAck{Accepted: true}); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, &errs.IoError{Op: "mkdir", Path: downloadDir, Err: err}
	}

	result := &Result{SessionID: begin.SessionID, State: StateStreaming, Files: make([]FileOutcome, len(begin.Files))}

	type fileResult struct {
		index   int
		outcome FileOutcome
		err     error
	}
	resultsCh := make(chan fileResult, len(begin.Files))

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()
	cc.setLocalCancel(cancelSession)

	done := make(chan struct{})
	defer close(done)
	watchCancelGrace(sessionCtx, done, control)

	go func() {
		if _, err := cc.waitCancel(sessionCtx); err == nil {
			cancelSession()
		}
	}()

	registerSession(begin.SessionID, cc)
	defer unregisterSession(begin.SessionID)

	for i, hdr := range begin.Files {
		if err := fileSem.Acquire(sessionCtx, 1); err != nil {
			resultsCh <- fileResult{index: i, outcome: FileOutcome{Index: i, LogicalName: hdr.LogicalName, Size: hdr.Size}, err: err}
			continue
		}
		go func(index int, hdr protocol.FileHeader) {
			defer fileSem.Release(1)
			outcome, err := receiveOneFile(sessionCtx, cc, conn, downloadDir, begin.SessionID, index, hdr, bus)
			resultsCh <- fileResult{index: index, outcome: outcome, err: err}
		}(i, hdr)
	}

	allOK := true
	for range begin.Files {
		fr := <-resultsCh
		result.Files[fr.index] = fr.outcome
		if fr.err != nil || !fr.outcome.OK {
			allOK = false
		}
	}

	cc.write(protocol.TypeSessionEnd, protocol.SessionEnd{OK: allOK})

	if allOK {
		result.State = StateCompleted
	} else if sessionCtx.Err() != nil {
		result.State = StateCancelled
	} else {
		result.State = StateFailed
	}
	bus.Publish(progress.Event{Kind: progress.KindSessionEnd, SessionID: begin.SessionID, Ok: allOK})
	return result, nil
}

func checkPolicy(begin protocol.SessionBegin, policy Policy) (string, bool) {
	if len(begin.Files) == 0 {
		return "session has no files", false
	}
	if len(begin.Files) > policy.MaxFiles {
		return fmt.Sprintf("file count %d exceeds limit %d", len(begin.Files), policy.MaxFiles), false
	}
	var total int64
	for _, f := range begin.Files {
		total += f.Size
	}
	if total > policy.MaxTotalBytes {
		return fmt.Sprintf("total size %d exceeds limit %d", total, policy.MaxTotalBytes), false
	}
	for _, f := range begin.Files {
		if _, err := sanitize.FileName(f.LogicalName); err != nil {
			return "invalid_name", false
		}
	}
	return "", true
}

func receiveOneFile(ctx context.Context, cc *controlChannel, conn Conn, downloadDir, sessionID string, index int, hdr protocol.FileHeader, bus *progress.Bus) (FileOutcome, error) {
	outcome := FileOutcome{Index: index, LogicalName: hdr.LogicalName, Size: hdr.Size}

	if _, err := cc.waitFileBegin(ctx, index); err != nil {
		outcome.Reason = "control"
		return outcome, err
	}

	stream, err := conn.AcceptUni(ctx)
	if err != nil {
		outcome.Reason = "transport"
		return outcome, &errs.TransportError{Op: "accept_uni", Reason: "cannot accept data stream", Err: err}
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.CancelRead(cancelStreamCode)
		case <-streamDone:
		}
	}()
	defer close(streamDone)

	finalPath, err := sanitize.UniquePath(downloadDir, hdr.LogicalName)
	if err != nil {
		outcome.Reason = "invalid_name"
		return outcome, &errs.PolicyError{Reason: "rejected name slipped past checkPolicy: " + err.Error()}
	}
	partPath := finalPath + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		outcome.Reason = "io"
		return outcome, &errs.IoError{Op: "create", Path: partPath, Err: err}
	}

	_, copyErr := copyWithProgress(ctx, f, stream, bus, sessionID, index, hdr.Size)
	closeErr := f.Close()

	end, endErr := cc.waitFileEnd(ctx, index)

	if copyErr != nil || closeErr != nil || endErr != nil {
		os.Remove(partPath)
		outcome.Reason = "io"
		if copyErr != nil {
			return outcome, copyErr
		}
		if closeErr != nil {
			return outcome, &errs.IoError{Op: "close", Path: partPath, Err: closeErr}
		}
		return outcome, endErr
	}

	if err := hasher.Verify(partPath, end.Digest); err != nil {
		os.Remove(partPath)
		cc.write(protocol.TypeFileAck, protocol.FileAck{Index: index, OK: false, Reason: "digest"})
		outcome.OK = false
		outcome.Reason = "digest"
		bus.Publish(progress.Event{Kind: progress.KindFileAck, SessionID: sessionID, FileIndex: index, Ok: false, Reason: "digest"})
		return outcome, nil
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		outcome.Reason = "io"
		return outcome, &errs.IoError{Op: "rename", Path: finalPath, Err: err}
	}

	if err := cc.write(protocol.TypeFileAck, protocol.FileAck{Index: index, OK: true}); err != nil {
		outcome.Reason = "control"
		return outcome, err
	}

	outcome.OK = true
	bus.Publish(progress.Event{Kind: progress.KindFileAck, SessionID: sessionID, FileIndex: index, BytesDone: hdr.Size, TotalBytes: hdr.Size, Ok: true})
	return outcome, nil
}
