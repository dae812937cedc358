package transport

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/fathomrelay/jend/internal/identity"
	"github.com/fathomrelay/jend/internal/simulation"
)

// TestConnectOverLossyPacketConnRoundTrip exercises ConnectPacketConn
// (the path DialQUIC takes once an ICE agent hands back a connected
// socket) through a simulation.LossyPacketConn, so QUIC's own loss
// recovery is what gets tested rather than a pristine loopback path.
func TestConnectOverLossyPacketConnRoundTrip(t *testing.T) {
	server := newTestEndpoint(t)
	if err := server.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer server.Close()

	clientID, err := identity.LoadOrGenerate(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	client, err := NewEndpoint(clientID)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	rawConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	lossy := simulation.NewLossyPacketConn(rawConn, 0.05, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverConnCh := make(chan *Connection, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		conn, err := server.Accept(ctx)
		serverConnCh <- conn
		serverErrCh <- err
	}()

	clientConn, err := client.ConnectPacketConn(ctx, lossy, server.LocalAddr(), ALPNTransfer)
	if err != nil {
		t.Fatalf("ConnectPacketConn: %v", err)
	}
	defer clientConn.Close()

	if err := <-serverErrCh; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	serverConn := <-serverConnCh
	defer serverConn.Close()

	clientStream, err := clientConn.OpenBi(ctx)
	if err != nil {
		t.Fatalf("OpenBi: %v", err)
	}
	if _, err := clientStream.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	serverStream, err := serverConn.AcceptBi(ctx)
	if err != nil {
		t.Fatalf("AcceptBi: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("ReadFull under loss: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}
}

// TestLossyPacketConnDropsAtConfiguredRate is a narrower unit test of
// the simulation wrapper itself, independent of QUIC: at a 100% loss
// rate every write must report success to the caller (the point of
// simulating loss is that the sender can't tell) while the peer never
// receives anything.
func TestLossyPacketConnDropsAtConfiguredRate(t *testing.T) {
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP a: %v", err)
	}
	defer a.Close()
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP b: %v", err)
	}
	defer b.Close()

	lossy := simulation.NewLossyPacketConn(a, 1.0, 0)

	n, err := lossy.WriteTo([]byte("ping"), b.LocalAddr())
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != 4 {
		t.Fatalf("WriteTo reported %d bytes, want 4", n)
	}

	b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 4)
	if _, _, err := b.ReadFromUDP(buf); err == nil {
		t.Fatalf("expected no packet to arrive at full loss rate")
	}
}
