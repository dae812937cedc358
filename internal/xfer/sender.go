package xfer

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/internal/hasher"
	"github.com/fathomrelay/jend/internal/progress"
	"github.com/fathomrelay/jend/internal/sanitize"
	"github.com/fathomrelay/jend/pkg/protocol"
)

// PendingFile is one local file offered to a Send call: its path on
// disk and the logical name shown to the peer (sanitized by the
// receiver independently; the sender need not sanitize its own name).
type PendingFile struct {
	Path        string
	LogicalName string
}

// Send drives the sender side of one TransferSession over conn: it
// preflights every file (stat + BLAKE3 digest, bounded by fileSem),
// proposes the session, and on acceptance streams each file on its own
// unidirectional stream, bounded by the same semaphore.
func Send(ctx context.Context, conn Conn, sessionID string, files []PendingFile, fileSem *semaphore.Weighted, bus *progress.Bus) (*Result, error) {
	if len(files) == 0 {
		return nil, &errs.PolicyError{Reason: "session has no files"}
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	headers := make([]protocol.FileHeader, len(files))
	for i, f := range files {
		if err := fileSem.Acquire(ctx, 1); err != nil {
			return nil, &errs.CancelledError{Reason: "cancelled during preflight"}
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			fileSem.Release(1)
			return nil, &errs.IoError{Op: "stat", Path: f.Path, Err: err}
		}
		digest, err := hasher.Digest(f.Path)
		fileSem.Release(1)
		if err != nil {
			return nil, err
		}
		name := f.LogicalName
		if name == "" {
			cleaned, err := sanitize.FileName(info.Name())
			if err != nil {
				return nil, &errs.PolicyError{Reason: "local file name has no safe representation: " + err.Error()}
			}
			name = cleaned
		}
		headers[i] = protocol.FileHeader{LogicalName: name, Size: info.Size(), Digest: digest}
	}

	control, err := conn.OpenBi(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "open_control", Reason: "cannot open control stream", Err: err}
	}
	cc := newControlChannel(control)

	if err := cc.write(protocol.TypeSessionBegin, protocol.SessionBegin{SessionID: sessionID, Files: headers}); err != nil {
		return nil, err
	}

	ack, err := cc.waitSessionAck(ctx)
	if err != nil {
		return nil, err
	}
	if !ack.Accepted {
		return &Result{SessionID: sessionID, State: StateRejected}, &errs.PolicyError{Reason: ack.Reason}
	}

	result := &Result{SessionID: sessionID, State: StateStreaming, Files: make([]FileOutcome, len(files))}

	type fileResult struct {
		index   int
		outcome FileOutcome
		err     error
	}
	resultsCh := make(chan fileResult, len(files))

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

	registerSession(sessionID, cc)
	defer unregisterSession(sessionID)

	for i, f := range files {
		if err := fileSem.Acquire(sessionCtx, 1); err != nil {
			resultsCh <- fileResult{index: i, outcome: FileOutcome{Index: i, LogicalName: headers[i].LogicalName, Size: headers[i].Size}, err: err}
			continue
		}
		go func(index int, path string, hdr protocol.FileHeader) {
			defer fileSem.Release(1)
			outcome, err := sendOneFile(sessionCtx, cc, conn, sessionID, index, path, hdr, bus)
			resultsCh <- fileResult{index: index, outcome: outcome, err: err}
		}(i, f.Path, headers[i])
	}

	allOK := true
	for range files {
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
	bus.Publish(progress.Event{Kind: progress.KindSessionEnd, SessionID: sessionID, Ok: allOK})
	return result, nil
}

func sendOneFile(ctx context.Context, cc *controlChannel, conn Conn, sessionID string, index int, path string, hdr protocol.FileHeader, bus *progress.Bus) (FileOutcome, error) {
	outcome := FileOutcome{Index: index, LogicalName: hdr.LogicalName, Size: hdr.Size}

	if err := cc.write(protocol.TypeFileBegin, protocol.FileBegin{Index: index}); err != nil {
		outcome.Reason = "control"
		return outcome, err
	}

	f, err := os.Open(path)
	if err != nil {
		outcome.Reason = "io"
		return outcome, &errs.IoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	stream, err := conn.OpenUni(ctx)
	if err != nil {
		outcome.Reason = "transport"
		return outcome, &errs.TransportError{Op: "open_uni", Reason: "cannot open data stream", Err: err}
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.CancelWrite(cancelStreamCode)
		case <-streamDone:
		}
	}()

	sent, err := copyWithProgress(ctx, stream, f, bus, sessionID, index, hdr.Size)
	close(streamDone)
	closeErr := stream.Close()
	if err != nil {
		outcome.Reason = "io"
		return outcome, err
	}
	if closeErr != nil {
		outcome.Reason = "transport"
		return outcome, &errs.TransportError{Op: "close_uni", Reason: "cannot finish data stream", Err: closeErr}
	}
	_ = sent

	digest, err := hasher.Digest(path)
	if err != nil {
		outcome.Reason = "hash"
		return outcome, err
	}

	if err := cc.write(protocol.TypeFileEnd, protocol.FileEnd{Index: index, Digest: digest}); err != nil {
		outcome.Reason = "control"
		return outcome, err
	}

	ack, err := cc.waitFileAck(ctx, index)
	if err != nil {
		outcome.Reason = "control"
		return outcome, err
	}
	outcome.OK = ack.OK
	outcome.Reason = ack.Reason

	bus.Publish(progress.Event{Kind: progress.KindFileAck, SessionID: sessionID, FileIndex: index, BytesDone: hdr.Size, TotalBytes: hdr.Size, Ok: ack.OK, Reason: ack.Reason})
	if !ack.OK {
		return outcome, nil
	}
	return outcome, nil
}

// copyWithProgress streams src to dst in bufSize chunks, publishing
// throttled FileProgress events through bus.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, bus *progress.Bus, sessionID string, index int, total int64) (int64, error) {
	buf := make([]byte, bufSize)
	var sent int64
	for {
		select {
		case <-ctx.Done():
			return sent, &errs.CancelledError{Reason: "transfer cancelled"}
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return sent, &errs.TransportError{Op: "write_data", Reason: "data stream write failed", Err: werr}
			}
			sent += int64(n)
			bus.Publish(progress.Event{Kind: progress.KindFileProgress, SessionID: sessionID, FileIndex: index, BytesDone: sent, TotalBytes: total})
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, &errs.IoError{Op: "read", Err: rerr}
		}
	}
}

func newSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
