package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/ice/v2"

	"github.com/fathomrelay/jend/internal/signaling"
)

// P2PManager handles the establishment of a P2P connection via ICE & MQTT
type P2PManager struct {
	Signaling *signaling.IoTClient
	Code      string
	Agent     *ice.Agent
}

// NewP2PManager creates a manager for a specific transfer session
func NewP2PManager(sig *signaling.IoTClient, code string) *P2PManager {
	return &P2PManager{
		Signaling: sig,
		Code:      code,
	}
}

// EstablishConnection runs the ICE handshake over MQTT signaling and
// returns the connected net.Conn once a candidate pair is selected.
// isOfferer: true (Receiver), false (Sender).
func (m *P2PManager) EstablishConnection(ctx context.Context, isOfferer bool) (net.Conn, error) {
	agent, err := NewICEAgent(ctx, isOfferer) // Defined in ice.go
	if err != nil {
		return nil, err
	}
	m.Agent = agent

	topic := fmt.Sprintf("jend/signal/%s", m.Code)

	remoteUfrag := make(chan string, 1)
	remotePwd := make(chan string, 1)

	err = m.Signaling.Subscribe(topic, func(client mqtt.Client, msg mqtt.Message) {
		var sigMsg signaling.SignalMessage
		if err := json.Unmarshal(msg.Payload(), &sigMsg); err != nil {
			return
		}

		// Filter own messages: offerer ignores offers, answerer ignores answers.
		if isOfferer && sigMsg.Type == signaling.TypeOffer {
			return
		}
		if !isOfferer && sigMsg.Type == signaling.TypeAnswer {
			return
		}

		if sigMsg.Candidate != "" {
			candidate, err := ice.UnmarshalCandidate(sigMsg.Candidate)
			if err == nil {
				agent.AddRemoteCandidate(candidate)
			}
		}
		if sigMsg.Ufrag != "" {
			select {
			case remoteUfrag <- sigMsg.Ufrag:
			default:
			}
		}
		if sigMsg.Pwd != "" {
			select {
			case remotePwd <- sigMsg.Pwd:
			default:
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("mqtt subscribe failed: %w", err)
	}

	agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		msg := signaling.SignalMessage{Type: signaling.TypeCandidate, Candidate: c.Marshal()}
		payload, _ := json.Marshal(msg)
		m.Signaling.Publish(topic, payload)
	})

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		return nil, fmt.Errorf("ice credentials: %w", err)
	}
	initMsg := signaling.SignalMessage{Ufrag: ufrag, Pwd: pwd}
	if isOfferer {
		initMsg.Type = signaling.TypeOffer
		payload, _ := json.Marshal(initMsg)
		m.Signaling.Publish(topic, payload)
	} else {
		initMsg.Type = signaling.TypeAnswer
	}

	select {
	case u := <-remoteUfrag:
		p := <-remotePwd
		if !isOfferer {
			payload, _ := json.Marshal(initMsg)
			m.Signaling.Publish(topic, payload)
		}
		if isOfferer {
			return agent.Dial(ctx, u, p)
		}
		return agent.Accept(ctx, u, p)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connPacketConn adapts a connected net.Conn (what pion/ice's Dial/Accept
// hand back) into the net.PacketConn quic-go's Transport expects, since
// an ICE candidate pair is already a fixed two-party path with no
// addressed-datagram semantics to preserve.
type connPacketConn struct{ net.Conn }

func (c connPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.Conn.Read(p)
	return n, c.Conn.RemoteAddr(), err
}

func (c connPacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	return c.Conn.Write(p)
}

// DialQUIC establishes the ICE path and opens a QUIC connection over
// it on the given ALPN, combining EstablishConnection with the
// PacketConn adaptation quic-go needs.
func (m *P2PManager) DialQUIC(ctx context.Context, ep *Endpoint, isOfferer bool, alpn string) (*Connection, error) {
	iceConn, err := m.EstablishConnection(ctx, isOfferer)
	if err != nil {
		return nil, err
	}
	return ep.ConnectPacketConn(ctx, connPacketConn{iceConn}, iceConn.RemoteAddr(), alpn)
}
