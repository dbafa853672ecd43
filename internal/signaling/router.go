package signaling

import (
	"errors"
	"io"
	"log/slog"

	"github.com/castwire/signal-relay/internal/metrics"
	"github.com/castwire/signal-relay/internal/session"
)

// Router is the protocol state machine. It is stateless itself; all state
// lives in the registry. One invocation runs per inbound message and never
// blocks on I/O beyond best-effort sends.
type Router struct {
	reg *session.Registry
	fan *Fanout
	m   *metrics.Metrics
	log *slog.Logger

	// exclusive enables the legacy single-broadcaster policy: a second
	// start_broadcast while the slot is taken is rejected with an error reply
	// instead of joining the directory.
	exclusive bool
}

func NewRouter(reg *session.Registry, fan *Fanout, exclusive bool, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		reg:       reg,
		fan:       fan,
		m:         m,
		log:       logger,
		exclusive: exclusive,
	}
}

// HandleConnect runs once per new session: the client learns its id and the
// current broadcaster directory immediately, so it can render live
// broadcasters without racing a separate request.
func (rt *Router) HandleConnect(s *session.Session) {
	rt.fan.Send(s, idMessage{Type: typeID, ID: s.ID()})
	rt.fan.Send(s, broadcasterListMessage{Type: typeBroadcasterList, List: rt.currentList()})
}

// HandleMessage dispatches one inbound message from s. Malformed payloads and
// unresolvable targets are silent per-message drops; the connection stays
// open and no error is surfaced to the sender (except the single-broadcaster
// conflict, which is user-visible by design).
func (rt *Router) HandleMessage(s *session.Session, data []byte) {
	rt.m.Inc(metrics.MessagesIn)

	msg, err := parseClientMessage(data)
	if err != nil {
		rt.m.Inc(metrics.DropReasonBadMessage)
		return
	}

	switch msg.Type {
	case typeSetName, typeSetProfile:
		s.SetProfile(msg.Name, msg.ProfilePic)
		rt.broadcastList()

	case typeStartBroadcast:
		rt.handleStartBroadcast(s, msg)

	case typeStopBroadcast:
		if !rt.reg.StopBroadcast(s.ID()) {
			return
		}
		list := rt.currentList()
		rt.fan.SendAll(broadcasterEndedMessage{
			Type:          typeBroadcasterEnded,
			BroadcasterID: s.ID(),
			List:          list,
		})
		rt.fan.SendAll(broadcasterListMessage{Type: typeBroadcasterList, List: list})

	case typeRequestOffer:
		target, ok := rt.resolveTarget(msg)
		if !ok {
			return
		}
		rt.fan.Send(target, requestOfferMessage{
			Type:       typeRequestOffer,
			ViewerID:   s.ID(),
			ViewerName: s.DisplayName(),
		})

	case typeOffer, typeAnswer:
		if msg.SDP == nil {
			rt.m.Inc(metrics.DropReasonBadMessage)
			return
		}
		rt.relay(s, msg)

	case typeCandidate:
		if msg.Candidate == nil {
			rt.m.Inc(metrics.DropReasonBadMessage)
			return
		}
		rt.relay(s, msg)

	case typeLogout:
		if !rt.reg.Logout(s.ID()) {
			return
		}
		rt.broadcastList()

	default:
		// Unrecognized types are ignored, not an error: old and new clients
		// share this endpoint.
		rt.m.Inc(metrics.DropReasonUnknownType)
	}
}

// HandleDisconnect tears down the session. It is safe to call more than once:
// only the call that observes the broadcasting flag set emits notifications,
// and removal is idempotent.
func (rt *Router) HandleDisconnect(s *session.Session) {
	wasBroadcasting := rt.reg.StopBroadcast(s.ID())
	rt.reg.Remove(s.ID())

	if !wasBroadcasting {
		return
	}
	list := rt.currentList()
	rt.fan.SendAll(broadcasterEndedMessage{
		Type:          typeBroadcasterEnded,
		BroadcasterID: s.ID(),
		List:          list,
	})
	rt.fan.SendAll(broadcasterListMessage{Type: typeBroadcasterList, List: list})
}

func (rt *Router) handleStartBroadcast(s *session.Session, msg clientMessage) {
	// start_broadcast may carry the broadcaster's name.
	s.SetProfile(msg.Name, msg.ProfilePic)

	err := rt.reg.StartBroadcast(s.ID(), rt.exclusive)
	switch {
	case errors.Is(err, session.ErrBroadcasterExists):
		rt.m.Inc(metrics.DropReasonBroadcastConflict)
		rt.fan.Send(s, errorMessage{Type: typeError, Message: "A broadcaster already exists."})
		return
	case err != nil:
		// Session raced its own close; nothing to announce.
		return
	}

	list := rt.currentList()
	rt.fan.SendAll(broadcasterStartedMessage{
		Type:            typeBroadcasterStarted,
		BroadcasterID:   s.ID(),
		BroadcasterName: s.DisplayName(),
		ProfilePic:      s.Avatar(),
		List:            list,
	})
	rt.fan.SendAll(broadcasterListMessage{Type: typeBroadcasterList, List: list})
}

// relay forwards an offer/answer/candidate verbatim to its target, stamped
// with the sender's identity. The payload is resolved against the registry at
// delivery time; a stale or unknown target drops the message silently.
func (rt *Router) relay(s *session.Session, msg clientMessage) {
	target, ok := rt.resolveTarget(msg)
	if !ok {
		return
	}
	rt.fan.Send(target, relayedMessage{
		Type:       msg.Type,
		SDP:        msg.SDP,
		Candidate:  msg.Candidate,
		SenderID:   s.ID(),
		SenderName: s.DisplayName(),
	})
}

func (rt *Router) resolveTarget(msg clientMessage) (*session.Session, bool) {
	if msg.TargetID == "" {
		rt.m.Inc(metrics.DropReasonBadMessage)
		return nil, false
	}
	target, ok := rt.reg.Get(msg.TargetID)
	if !ok {
		rt.m.Inc(metrics.DropReasonUnknownTarget)
		return nil, false
	}
	return target, true
}

func (rt *Router) currentList() []broadcasterEntry {
	return wireDirectory(rt.reg.Directory())
}

func (rt *Router) broadcastList() {
	rt.fan.SendAll(broadcasterListMessage{Type: typeBroadcasterList, List: rt.currentList()})
}
