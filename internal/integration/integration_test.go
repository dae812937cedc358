// Package integration exercises the pairing-then-transfer path across
// real package boundaries and a real (loopback) QUIC connection,
// replacing the teacher's e2e_test.go now that there is no CLI binary
// to spawn (see DESIGN.md's "Dropped from the teacher" entry for
// e2e/e2e_test.go).
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fathomrelay/jend/internal/audit"
	"github.com/fathomrelay/jend/internal/config"
	"github.com/fathomrelay/jend/internal/identity"
	"github.com/fathomrelay/jend/internal/pairing"
	"github.com/fathomrelay/jend/internal/peerstore"
	"github.com/fathomrelay/jend/internal/progress"
	"github.com/fathomrelay/jend/internal/transport"
	"github.com/fathomrelay/jend/internal/xfer"
)

func newTestIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrGenerate(filepath.Join(t.TempDir(), "node_secret.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerate(%s): %v", name, err)
	}
	id.DisplayName = name
	return id
}

// TestPairThenTransferEndToEnd runs the full path a desktop shell would
// drive: two endpoints pair over p2p/pair/1, persist the resulting
// PeerRecords, then run a sender/receiver transfer session over
// p2p/xfer/1, and finally append an audit entry for the completed
// session.
func TestPairThenTransferEndToEnd(t *testing.T) {
	serverID := newTestIdentity(t, "server-laptop")
	clientID := newTestIdentity(t, "client-phone")

	server, err := transport.NewEndpoint(serverID)
	if err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	defer server.Close()
	if err := server.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	client, err := transport.NewEndpoint(clientID)
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// --- Pairing (C4) ---

	serverConnCh := make(chan *transport.Connection, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			t.Errorf("server Accept (pairing): %v", err)
			return
		}
		serverConnCh <- conn
	}()

	clientPairConn, err := client.Connect(ctx, server.LocalAddr().String(), transport.ALPNPairing)
	if err != nil {
		t.Fatalf("Connect (pairing): %v", err)
	}
	defer clientPairConn.Close()

	serverPairConn := <-serverConnCh
	defer serverPairConn.Close()

	clientStream, err := clientPairConn.OpenBi(ctx)
	if err != nil {
		t.Fatalf("OpenBi (pairing): %v", err)
	}

	type pairOutcome struct {
		res *pairing.Result
		err error
	}
	clientPairCh := make(chan pairOutcome, 1)
	serverPairCh := make(chan pairOutcome, 1)

	// A QUIC stream reaches the peer's AcceptBi only once data is sent on
	// it, so the initiator, whose Hello is that first data, starts before
	// the server side accepts the stream.
	go func() {
		res, err := pairing.Run(ctx, clientStream, clientID, true, func(string) bool { return true })
		clientPairCh <- pairOutcome{res, err}
	}()

	serverStream, err := serverPairConn.AcceptBi(ctx)
	if err != nil {
		t.Fatalf("AcceptBi (pairing): %v", err)
	}
	go func() {
		res, err := pairing.Run(ctx, serverStream, serverID, false, func(string) bool { return true })
		serverPairCh <- pairOutcome{res, err}
	}()

	clientPairResult := <-clientPairCh
	serverPairResult := <-serverPairCh
	if clientPairResult.err != nil {
		t.Fatalf("client pairing: %v", clientPairResult.err)
	}
	if serverPairResult.err != nil {
		t.Fatalf("server pairing: %v", serverPairResult.err)
	}
	if clientPairResult.res.Code != serverPairResult.res.Code {
		t.Fatalf("pairing codes diverged: %s vs %s", clientPairResult.res.Code, serverPairResult.res.Code)
	}

	// --- Persist PeerRecords (C9) ---

	clientStore := peerstore.Open(filepath.Join(t.TempDir(), "peers.json"))
	if err := clientStore.Upsert(ctx, peerstore.PeerRecord{
		EndpointID:  clientPairResult.res.PeerID.String(),
		DisplayName: clientPairResult.res.DisplayName,
		PairedAt:    time.Now(),
		LastSeen:    time.Now(),
	}); err != nil {
		t.Fatalf("client Upsert: %v", err)
	}
	peers, err := clientStore.All(ctx)
	if err != nil {
		t.Fatalf("client All: %v", err)
	}
	if len(peers) != 1 || peers[0].EndpointID != serverID.Public.String() {
		t.Fatalf("unexpected peer records: %+v", peers)
	}

	// --- Transfer (C5/C6) over a fresh connection on the transfer ALPN ---

	srcDir := t.TempDir()
	downloadDir := t.TempDir()
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk\n")
	var content []byte
	for i := 0; i < 5000; i++ {
		content = append(content, payload...)
	}
	srcPath := filepath.Join(srcDir, "report.txt")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	xferConnCh := make(chan *transport.Connection, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			t.Errorf("server Accept (transfer): %v", err)
			return
		}
		xferConnCh <- conn
	}()

	clientXferConn, err := client.Connect(ctx, server.LocalAddr().String(), transport.ALPNTransfer)
	if err != nil {
		t.Fatalf("Connect (transfer): %v", err)
	}
	defer clientXferConn.Close()

	serverXferConn := <-xferConnCh
	defer serverXferConn.Close()

	bus := progress.New()
	receiverOrch := xfer.NewOrchestrator(config.Config{}, bus)
	senderOrch := xfer.NewOrchestrator(config.Config{}, bus)

	type recvOutcome struct {
		res *xfer.Result
		err error
	}
	recvCh := make(chan recvOutcome, 1)
	go func() {
		res, err := receiverOrch.AcceptSession(ctx, xfer.WrapConnection(serverXferConn), downloadDir, xfer.DefaultPolicy(), func(xfer.SessionOffer) bool { return true })
		recvCh <- recvOutcome{res, err}
	}()

	sendResult, err := senderOrch.SendSession(ctx, xfer.WrapConnection(clientXferConn), []xfer.PendingFile{
		{Path: srcPath, LogicalName: "report.txt"},
	})
	if err != nil {
		t.Fatalf("SendSession: %v", err)
	}
	recvResult := <-recvCh
	if recvResult.err != nil {
		t.Fatalf("AcceptSession: %v", recvResult.err)
	}

	if !sendResult.Completed() {
		t.Fatalf("sender did not complete: %+v", sendResult)
	}
	if !recvResult.res.Completed() {
		t.Fatalf("receiver did not complete: %+v", recvResult.res)
	}

	got, err := os.ReadFile(filepath.Join(downloadDir, "report.txt"))
	if err != nil {
		t.Fatalf("ReadFile received: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("received content mismatch: got %d bytes, want %d", len(got), len(content))
	}

	// --- Audit (C10) ---

	audit.SetLogPathOverride(filepath.Join(t.TempDir(), "history.jsonl"))
	if err := audit.WriteEntry(audit.AuditEntry{
		ID:              sendResult.SessionID,
		Timestamp:       time.Now(),
		Role:            "sender",
		PeerDisplayName: serverID.DisplayName,
		FileCount:       len(sendResult.Files),
		TotalBytes:      int64(len(content)),
		Status:          "completed",
	}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	history, err := audit.LoadHistory()
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 1 || history[0].ID != sendResult.SessionID {
		t.Fatalf("unexpected history: %+v", history)
	}
}
