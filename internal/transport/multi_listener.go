package transport

import (
	"context"
	"net"
	"sync"
)

// QUICListener is anything that can hand back inbound Connections, so
// MultiListener can fan in both a direct-bind Endpoint and any
// ICE-routed listeners negotiated per-session.
type QUICListener interface {
	Accept(ctx context.Context) (*Connection, error)
	Close() error
	LocalAddr() net.Addr
}

// MultiListener aggregates multiple QUICListeners into a single Accept
// loop, so a receiver can accept whichever path succeeds first: a
// direct bind (LAN, or a publicly reachable relay address) or an
// ICE-negotiated path set up per pairing/transfer session.
type MultiListener struct {
	listeners []QUICListener
	conns     chan *Connection
	done      chan struct{}
	mu        sync.Mutex
}

func NewMultiListener() *MultiListener {
	return &MultiListener{
		conns: make(chan *Connection),
		done:  make(chan struct{}),
	}
}

// Add registers a new listener and starts an accept loop for it. One
// listener's failure (e.g. an ICE agent that never connects) doesn't
// stop the others.
func (m *MultiListener) Add(l QUICListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	go func() {
		for {
			conn, err := l.Accept(context.Background())
			if err != nil {
				return
			}
			select {
			case m.conns <- conn:
			case <-m.done:
				return
			}
		}
	}()
}

// Accept waits for and returns the next connection from any registered
// listener.
func (m *MultiListener) Accept(ctx context.Context) (*Connection, error) {
	select {
	case conn := <-m.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, net.ErrClosed
	}
}

// Close closes all underlying listeners.
func (m *MultiListener) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	default:
		close(m.done)
	}

	for _, l := range m.listeners {
		l.Close()
	}
	return nil
}

// LocalAddr returns the address of the first registered listener, or a
// zero address if none are registered yet.
func (m *MultiListener) LocalAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listeners) > 0 {
		return m.listeners[0].LocalAddr()
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: 0}
}
