package signaling

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/castwire/signal-relay/internal/metrics"
	"github.com/castwire/signal-relay/internal/session"
)

// Fanout delivers messages to one or all live connections. Every send is a
// single best-effort attempt: a recipient whose channel is broken is counted
// and skipped, never retried, and never interrupts delivery to the remaining
// recipients. Cleanup of the dead connection is left to its own close
// notification.
type Fanout struct {
	reg *session.Registry
	m   *metrics.Metrics
	log *slog.Logger
}

func NewFanout(reg *session.Registry, m *metrics.Metrics, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fanout{reg: reg, m: m, log: logger}
}

// Send marshals msg and writes it to one session. Reports whether the write
// succeeded; failure is swallowed by design.
func (f *Fanout) Send(s *session.Session, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		// Outbound messages are plain structs; a marshal failure is a bug,
		// but it must not take the handler down.
		f.log.Error("marshal outbound message", "err", err)
		return false
	}
	return f.sendRaw(s, data)
}

// SendAll delivers msg to every live session, marshaling once.
func (f *Fanout) SendAll(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.log.Error("marshal outbound message", "err", err)
		return
	}
	f.reg.ForEach(func(s *session.Session) {
		f.sendRaw(s, data)
	})
}

func (f *Fanout) sendRaw(s *session.Session, data []byte) bool {
	if err := s.Send(data); err != nil {
		f.m.Inc(metrics.DropReasonSendFailure)
		f.log.Debug("send to session failed", "session_id", s.ID(), "err", err)
		return false
	}
	f.m.Inc(metrics.MessagesOut)
	return true
}
