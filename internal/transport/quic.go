// Package transport implements the QUIC-based provided-transport
// contract spec.md §6.3 describes but deliberately doesn't re-specify:
// Endpoint.bind/connect/accept and Connection.open_bi/open_uni/
// accept_bi/accept_uni, with NAT traversal (direct via STUN, relayed
// via TURN) handled underneath by pion/ice. This keeps the teacher's
// QUICTransport shape (self-signed cert, quic-go Listen/Dial) but
// generalizes it to the two ALPNs jend actually speaks and to
// ICE-routed connections alongside plain address dialing.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/internal/identity"
	"github.com/fathomrelay/jend/internal/pairing"
)

// ALPN identifiers for jend's two dedicated protocols.
const (
	ALPNPairing  = pairing.ALPN // "p2p/pair/1"
	ALPNTransfer = "p2p/xfer/1"
)

const dialTimeout = 5 * time.Second

// Stream wraps a quic.Stream with the deadline surface internal/pairing
// and internal/xfer need; quic.Stream already implements this surface,
// this alias exists so callers don't import quic-go directly.
type Stream = quic.Stream

// Connection is a single peer-to-peer QUIC connection, offering both
// bidirectional control streams and unidirectional data streams per
// spec.md §4.5.
type Connection struct {
	raw quic.Connection
}

func (c *Connection) OpenBi(ctx context.Context) (Stream, error) {
	s, err := c.raw.OpenStreamSync(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "open_bi", Reason: "cannot open bidirectional stream", Err: err}
	}
	return s, nil
}

func (c *Connection) AcceptBi(ctx context.Context) (Stream, error) {
	s, err := c.raw.AcceptStream(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "accept_bi", Reason: "cannot accept bidirectional stream", Err: err}
	}
	return s, nil
}

func (c *Connection) OpenUni(ctx context.Context) (quic.SendStream, error) {
	s, err := c.raw.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "open_uni", Reason: "cannot open unidirectional stream", Err: err}
	}
	return s, nil
}

func (c *Connection) AcceptUni(ctx context.Context) (quic.ReceiveStream, error) {
	s, err := c.raw.AcceptUniStream(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "accept_uni", Reason: "cannot accept unidirectional stream", Err: err}
	}
	return s, nil
}

// RemoteEndpointID recovers the peer's EndpointID from its self-signed
// leaf certificate's public key, set by generateSelfSignedCert below.
func (c *Connection) RemoteEndpointID() (identity.EndpointID, error) {
	state := c.raw.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return identity.EndpointID{}, &errs.TransportError{Op: "identify", Reason: "no peer certificate presented"}
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return identity.EndpointID{}, &errs.TransportError{Op: "identify", Reason: "peer certificate is not ed25519"}
	}
	var id identity.EndpointID
	copy(id[:], pub)
	return id, nil
}

func (c *Connection) Close() error { return c.raw.CloseWithError(0, "") }

// Endpoint binds a local QUIC listener and dials outbound QUIC
// connections, both authenticated by the local identity's self-signed
// certificate (the wire-level TLS cert is just a carrier for the
// Ed25519 public key; trust itself comes from pairing's PeerRecords,
// not from the certificate chain).
type Endpoint struct {
	self     *identity.Identity
	tlsConf  *tls.Config
	listener *quic.Listener
}

// NewEndpoint builds an Endpoint for self, ready to Bind or Connect.
func NewEndpoint(self *identity.Identity) (*Endpoint, error) {
	tlsConf, err := generateSelfSignedConfig(self)
	if err != nil {
		return nil, &errs.TransportError{Op: "init", Reason: "cannot generate endpoint certificate", Err: err}
	}
	return &Endpoint{self: self, tlsConf: tlsConf}, nil
}

// Bind starts listening on the given UDP port (0 picks an ephemeral
// port) for both pairing and transfer ALPNs.
func (e *Endpoint) Bind(addr string) error {
	conf := e.tlsConf.Clone()
	conf.NextProtos = []string{ALPNPairing, ALPNTransfer}

	quicConfig := &quic.Config{
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
		MaxIncomingStreams: 256,
	}

	listener, err := quic.ListenAddr(addr, conf, quicConfig)
	if err != nil {
		return &errs.TransportError{Op: "bind", Peer: addr, Reason: "cannot listen", Err: err}
	}
	e.listener = listener
	return nil
}

// LocalAddr is the bound listener's address, used for discovery
// advertisements.
func (e *Endpoint) LocalAddr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Accept blocks for the next inbound connection on the bound listener.
func (e *Endpoint) Accept(ctx context.Context) (*Connection, error) {
	if e.listener == nil {
		return nil, &errs.TransportError{Op: "accept", Reason: "endpoint is not bound"}
	}
	conn, err := e.listener.Accept(ctx)
	if err != nil {
		return nil, &errs.TransportError{Op: "accept", Reason: "listener accept failed", Err: err}
	}
	return &Connection{raw: conn}, nil
}

// Connect dials a peer at addr over the given ALPN. A direct
// quic.DialAddr is used when addr is already reachable (LAN, or a
// relay-resolved public endpoint); ConnectPacketConn (below) is used
// when the path must be negotiated through ICE first.
func (e *Endpoint) Connect(ctx context.Context, addr, alpn string) (*Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conf := e.tlsConf.Clone()
	conf.NextProtos = []string{alpn}

	conn, err := quic.DialAddr(ctx, addr, conf, nil)
	if err != nil {
		return nil, &errs.TransportError{Op: "connect", Peer: addr, Reason: "dial failed", Err: err}
	}
	return &Connection{raw: conn}, nil
}

// ConnectPacketConn dials over an already-established net.PacketConn,
// used once an ICE agent (see ice.go) has selected a candidate pair and
// handed back its underlying socket instead of a plain address.
func (e *Endpoint) ConnectPacketConn(ctx context.Context, pconn net.PacketConn, remote net.Addr, alpn string) (*Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conf := e.tlsConf.Clone()
	conf.NextProtos = []string{alpn}

	tr := &quic.Transport{Conn: pconn}
	conn, err := tr.Dial(ctx, remote, conf, nil)
	if err != nil {
		return nil, &errs.TransportError{Op: "connect", Peer: remote.String(), Reason: "ice-routed dial failed", Err: err}
	}
	return &Connection{raw: conn}, nil
}

func (e *Endpoint) Close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}

// generateSelfSignedConfig builds a TLS config whose leaf certificate's
// public key IS the endpoint's Ed25519 identity key, so a peer can
// recover the EndpointID straight from the handshake (RemoteEndpointID
// above) instead of needing a separate identity exchange on every
// connection. Trust is still established out-of-band by pairing; this
// only carries the identity, the way the teacher's generateTLSConfig
// carries an anonymous self-signed RSA cert for transport encryption.
func generateSelfSignedConfig(self *identity.Identity) (*tls.Config, error) {
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: self.Public.String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, ed25519.PublicKey(self.Public[:]), self.Private)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  self.Private,
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
	}, nil
}
