package signaling

import (
	"encoding/json"
	"errors"

	"github.com/castwire/signal-relay/internal/session"
)

// Client -> server message types.
const (
	typeSetName        = "set_name"
	typeSetProfile     = "set_profile"
	typeStartBroadcast = "start_broadcast"
	typeStopBroadcast  = "stop_broadcast"
	typeRequestOffer   = "request_offer"
	typeOffer          = "offer"
	typeAnswer         = "answer"
	typeCandidate      = "candidate"
	typeLogout         = "logout"
)

// Server -> client message types.
const (
	typeID                 = "id"
	typeBroadcasterList    = "broadcaster_list"
	typeBroadcasterStarted = "broadcaster_started"
	typeBroadcasterEnded   = "broadcaster_ended"
	typeError              = "error"
)

var errMissingType = errors.New("signaling: message missing type")

// clientMessage is the lenient inbound envelope. Unknown extra fields are
// ignored, and the legacy field aliases clients use interchangeably are
// collapsed into one canonical field at decode time so handlers never
// re-derive precedence.
//
// SDP and Candidate stay raw: the relay forwards them byte-for-byte and must
// not re-encode (or even understand) their contents.
type clientMessage struct {
	Type string `json:"type"`

	Name     string `json:"name"`
	Username string `json:"username"`

	ProfilePic string `json:"profilePic"`
	Picture    string `json:"picture"`

	TargetID string `json:"targetId"`
	To       string `json:"to"`
	Target   string `json:"target"`

	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return clientMessage{}, err
	}
	if m.Type == "" {
		return clientMessage{}, errMissingType
	}
	m.normalize()
	return m, nil
}

func (m *clientMessage) normalize() {
	// username wins over name for profile updates; set_name only carries name.
	if m.Username != "" {
		m.Name = m.Username
	}
	if m.ProfilePic == "" {
		m.ProfilePic = m.Picture
	}
	if m.TargetID == "" {
		m.TargetID = m.To
	}
	if m.TargetID == "" {
		m.TargetID = m.Target
	}
}

// broadcasterEntry is one directory entry on the wire.
type broadcasterEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic,omitempty"`
}

func wireDirectory(dir []session.BroadcasterInfo) []broadcasterEntry {
	out := make([]broadcasterEntry, 0, len(dir))
	for _, b := range dir {
		out = append(out, broadcasterEntry{
			ID:         b.ID,
			Name:       b.Name,
			ProfilePic: b.Avatar,
		})
	}
	return out
}

type idMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type broadcasterListMessage struct {
	Type string             `json:"type"`
	List []broadcasterEntry `json:"list"`
}

type broadcasterStartedMessage struct {
	Type            string             `json:"type"`
	BroadcasterID   string             `json:"broadcasterId"`
	BroadcasterName string             `json:"broadcasterName"`
	ProfilePic      string             `json:"profilePic,omitempty"`
	List            []broadcasterEntry `json:"list"`
}

type broadcasterEndedMessage struct {
	Type          string             `json:"type"`
	BroadcasterID string             `json:"broadcasterId"`
	List          []broadcasterEntry `json:"list"`
}

type requestOfferMessage struct {
	Type       string `json:"type"`
	ViewerID   string `json:"viewerId"`
	ViewerName string `json:"viewerName"`
}

// relayedMessage carries a forwarded offer/answer/candidate to its target,
// stamped with the sender's identity.
type relayedMessage struct {
	Type       string          `json:"type"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
