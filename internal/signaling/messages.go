package signaling

// MessageType distinguishes the three frames an ICE handshake needs:
// one side's offer, the other's answer, and any number of trickled
// candidates.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
)

// SignalMessage is the wire shape published and subscribed on a
// session's jend/signal/<code> MQTT topic (see transport.P2PManager).
// Every peer on the topic receives every message, so a handler must
// ignore frames of its own role (an offerer never reacts to TypeOffer).
type SignalMessage struct {
	Type MessageType `json:"type"`
	// Ufrag/Pwd carry the local ICE credentials, present on the
	// initial offer and answer frames.
	Ufrag string `json:"ufrag,omitempty"`
	Pwd   string `json:"pwd,omitempty"`
	// Candidate is one pion/ice marshaled candidate string, trickled
	// as the agent discovers local/srflx/relay candidates.
	Candidate string `json:"candidate,omitempty"`
}
