package xfer

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"
)

// fakeSendStream and fakeReceiveStream stand in for quic-go's
// CancelWrite/CancelRead on a plain net.Pipe: there is no QUIC-level
// stop_sending/reset to send, so closing the pipe end is the closest
// equivalent, same as a real abort unblocks a peer's blocked Read/Write.
type fakeSendStream struct{ net.Conn }

func (f fakeSendStream) CancelWrite(quic.StreamErrorCode) { f.Conn.Close() }

type fakeReceiveStream struct{ net.Conn }

func (f fakeReceiveStream) CancelRead(quic.StreamErrorCode) { f.Conn.Close() }

// fakeConn is an in-memory Conn backed by net.Pipe, so control and data
// streams exist and rendezvous without a live QUIC connection. Two
// fakeConns sharing the same channels model the two ends of one
// p2p/xfer/1 connection.
type fakeConn struct {
	bi  chan net.Conn
	uni chan net.Conn
}

func newFakeConnPair() (client, server *fakeConn) {
	bi := make(chan net.Conn, 8)
	uni := make(chan net.Conn, 32)
	return &fakeConn{bi: bi, uni: uni}, &fakeConn{bi: bi, uni: uni}
}

func (c *fakeConn) OpenBi(ctx context.Context) (Stream, error) {
	local, remote := net.Pipe()
	c.bi <- remote
	return local, nil
}

func (c *fakeConn) AcceptBi(ctx context.Context) (Stream, error) {
	select {
	case conn := <-c.bi:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) OpenUni(ctx context.Context) (DataSendStream, error) {
	local, remote := net.Pipe()
	c.uni <- remote
	return fakeSendStream{local}, nil
}

func (c *fakeConn) AcceptUni(ctx context.Context) (DataReceiveStream, error) {
	select {
	case conn := <-c.uni:
		return fakeReceiveStream{conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
