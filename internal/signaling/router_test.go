package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/castwire/signal-relay/internal/metrics"
	"github.com/castwire/signal-relay/internal/session"
)

// captureConn records every frame written to it.
type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *captureConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *captureConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// typesSeen decodes just the type field of every captured frame.
func (c *captureConn) typesSeen(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.all() {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("frame %q: %v", f, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (c *captureConn) lastFrame(t *testing.T) []byte {
	t.Helper()
	frames := c.all()
	if len(frames) == 0 {
		t.Fatal("no frames captured")
	}
	return frames[len(frames)-1]
}

type routerFixture struct {
	reg    *session.Registry
	m      *metrics.Metrics
	router *Router
}

func newRouterFixture(exclusive bool) *routerFixture {
	reg := session.NewRegistry()
	m := metrics.New()
	return &routerFixture{
		reg:    reg,
		m:      m,
		router: NewRouter(reg, NewFanout(reg, m, nil), exclusive, m, nil),
	}
}

func (f *routerFixture) connect(t *testing.T) (*session.Session, *captureConn) {
	t.Helper()
	conn := &captureConn{}
	s := f.reg.Create(conn)
	f.router.HandleConnect(s)
	return s, conn
}

func (f *routerFixture) send(s *session.Session, msg string) {
	f.router.HandleMessage(s, []byte(msg))
}

func TestConnectSendsIDThenDirectory(t *testing.T) {
	f := newRouterFixture(false)
	s, conn := f.connect(t)

	got := conn.typesSeen(t)
	if len(got) != 2 || got[0] != "id" || got[1] != "broadcaster_list" {
		t.Fatalf("connect frames = %v, want [id broadcaster_list]", got)
	}

	var idMsg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(conn.all()[0], &idMsg); err != nil {
		t.Fatal(err)
	}
	if idMsg.ID != s.ID() {
		t.Fatalf("id message carries %q, want %q", idMsg.ID, s.ID())
	}
}

func TestConnectSeesExistingBroadcasters(t *testing.T) {
	f := newRouterFixture(false)
	b, _ := f.connect(t)
	f.send(b, `{"type":"start_broadcast","username":"carol"}`)

	_, conn := f.connect(t)
	var list struct {
		List []broadcasterEntry `json:"list"`
	}
	if err := json.Unmarshal(conn.all()[1], &list); err != nil {
		t.Fatal(err)
	}
	if len(list.List) != 1 || list.List[0].ID != b.ID() || list.List[0].Name != "carol" {
		t.Fatalf("directory on connect = %+v", list.List)
	}
}

func TestStartBroadcastAnnouncesToAll(t *testing.T) {
	f := newRouterFixture(false)
	b, bConn := f.connect(t)
	_, vConn := f.connect(t)
	bConn.reset()
	vConn.reset()

	f.send(b, `{"type":"start_broadcast","username":"carol","profilePic":"c.png"}`)

	for _, conn := range []*captureConn{bConn, vConn} {
		got := conn.typesSeen(t)
		if len(got) != 2 || got[0] != "broadcaster_started" || got[1] != "broadcaster_list" {
			t.Fatalf("frames = %v, want [broadcaster_started broadcaster_list]", got)
		}
	}

	var started broadcasterStartedMessage
	if err := json.Unmarshal(vConn.all()[0], &started); err != nil {
		t.Fatal(err)
	}
	if started.BroadcasterID != b.ID() || started.BroadcasterName != "carol" || started.ProfilePic != "c.png" {
		t.Fatalf("broadcaster_started = %+v", started)
	}
	if len(started.List) != 1 {
		t.Fatalf("embedded list has %d entries, want 1", len(started.List))
	}
}

func TestStopBroadcastAnnouncesEnded(t *testing.T) {
	f := newRouterFixture(false)
	b, _ := f.connect(t)
	_, vConn := f.connect(t)
	f.send(b, `{"type":"start_broadcast"}`)
	vConn.reset()

	f.send(b, `{"type":"stop_broadcast"}`)

	got := vConn.typesSeen(t)
	if len(got) != 2 || got[0] != "broadcaster_ended" || got[1] != "broadcaster_list" {
		t.Fatalf("frames = %v, want [broadcaster_ended broadcaster_list]", got)
	}
	var ended broadcasterEndedMessage
	if err := json.Unmarshal(vConn.all()[0], &ended); err != nil {
		t.Fatal(err)
	}
	if ended.BroadcasterID != b.ID() || len(ended.List) != 0 {
		t.Fatalf("broadcaster_ended = %+v", ended)
	}
}

func TestStopBroadcastWhenNotBroadcastingIsSilent(t *testing.T) {
	f := newRouterFixture(false)
	s, conn := f.connect(t)
	conn.reset()

	f.send(s, `{"type":"stop_broadcast"}`)

	if got := conn.all(); len(got) != 0 {
		t.Fatalf("expected no frames, got %d", len(got))
	}
}

func TestExclusiveModeRejectsSecondBroadcaster(t *testing.T) {
	f := newRouterFixture(true)
	first, firstConn := f.connect(t)
	second, secondConn := f.connect(t)
	f.send(first, `{"type":"start_broadcast","username":"first"}`)
	firstConn.reset()
	secondConn.reset()

	f.send(second, `{"type":"start_broadcast","username":"second"}`)

	// Only the loser hears anything, and it is the conflict error.
	if got := firstConn.all(); len(got) != 0 {
		t.Fatalf("winner received %d frames, want 0", len(got))
	}
	var errMsg errorMessage
	if err := json.Unmarshal(secondConn.lastFrame(t), &errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Type != "error" || errMsg.Message != "A broadcaster already exists." {
		t.Fatalf("error reply = %+v", errMsg)
	}
	if n := f.m.Get(metrics.DropReasonBroadcastConflict); n != 1 {
		t.Fatalf("conflict count = %d, want 1", n)
	}
}

func TestExclusiveSlotFreesOnDisconnect(t *testing.T) {
	f := newRouterFixture(true)
	first, _ := f.connect(t)
	second, secondConn := f.connect(t)
	f.send(first, `{"type":"start_broadcast"}`)

	f.router.HandleDisconnect(first)
	secondConn.reset()

	f.send(second, `{"type":"start_broadcast"}`)
	got := secondConn.typesSeen(t)
	if len(got) == 0 || got[0] != "broadcaster_started" {
		t.Fatalf("frames after slot freed = %v, want broadcaster_started first", got)
	}
}

func TestMultiModeAllowsConcurrentBroadcasters(t *testing.T) {
	f := newRouterFixture(false)
	var ids []string
	for i := 0; i < 3; i++ {
		s, _ := f.connect(t)
		f.send(s, fmt.Sprintf(`{"type":"start_broadcast","username":"b%d"}`, i))
		ids = append(ids, s.ID())
	}
	dir := f.reg.Directory()
	if len(dir) != 3 {
		t.Fatalf("directory has %d entries, want 3", len(dir))
	}
}

func TestRequestOfferReachesBroadcaster(t *testing.T) {
	f := newRouterFixture(false)
	b, bConn := f.connect(t)
	v, _ := f.connect(t)
	f.send(b, `{"type":"start_broadcast"}`)
	f.send(v, `{"type":"set_name","name":"viewer-1"}`)
	bConn.reset()

	f.send(v, fmt.Sprintf(`{"type":"request_offer","targetId":%q}`, b.ID()))

	var req requestOfferMessage
	if err := json.Unmarshal(bConn.lastFrame(t), &req); err != nil {
		t.Fatal(err)
	}
	if req.Type != "request_offer" || req.ViewerID != v.ID() || req.ViewerName != "viewer-1" {
		t.Fatalf("request_offer = %+v", req)
	}
}

func TestOfferRelayedVerbatim(t *testing.T) {
	f := newRouterFixture(false)
	b, _ := f.connect(t)
	v, vConn := f.connect(t)
	vConn.reset()

	sdp := `{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}`
	f.send(b, fmt.Sprintf(`{"type":"offer","targetId":%q,"sdp":%s}`, v.ID(), sdp))

	var got struct {
		Type     string          `json:"type"`
		SDP      json.RawMessage `json:"sdp"`
		SenderID string          `json:"senderId"`
	}
	if err := json.Unmarshal(vConn.lastFrame(t), &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "offer" || got.SenderID != b.ID() {
		t.Fatalf("relayed envelope = %+v", got)
	}
	if string(got.SDP) != sdp {
		t.Fatalf("sdp = %s, want %s", got.SDP, sdp)
	}
}

func TestCandidateRelayed(t *testing.T) {
	f := newRouterFixture(false)
	a, _ := f.connect(t)
	b, bConn := f.connect(t)
	bConn.reset()

	cand := `{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 54321 typ host","sdpMid":"0"}`
	f.send(a, fmt.Sprintf(`{"type":"candidate","targetId":%q,"candidate":%s}`, b.ID(), cand))

	var got struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(bConn.lastFrame(t), &got); err != nil {
		t.Fatal(err)
	}
	if string(got.Candidate) != cand {
		t.Fatalf("candidate = %s, want %s", got.Candidate, cand)
	}
}

func TestRelayToUnknownTargetDroppedSilently(t *testing.T) {
	f := newRouterFixture(false)
	s, conn := f.connect(t)
	conn.reset()

	f.send(s, `{"type":"offer","targetId":"nope","sdp":{}}`)

	if got := conn.all(); len(got) != 0 {
		t.Fatalf("sender received %d frames, want 0", len(got))
	}
	if n := f.m.Get(metrics.DropReasonUnknownTarget); n != 1 {
		t.Fatalf("unknown target count = %d, want 1", n)
	}
}

func TestOfferWithoutPayloadDropped(t *testing.T) {
	f := newRouterFixture(false)
	a, _ := f.connect(t)
	b, bConn := f.connect(t)
	bConn.reset()

	f.send(a, fmt.Sprintf(`{"type":"offer","targetId":%q}`, b.ID()))
	f.send(a, fmt.Sprintf(`{"type":"candidate","targetId":%q}`, b.ID()))

	if got := bConn.all(); len(got) != 0 {
		t.Fatalf("target received %d frames, want 0", len(got))
	}
	if n := f.m.Get(metrics.DropReasonBadMessage); n != 2 {
		t.Fatalf("bad message count = %d, want 2", n)
	}
}

func TestMalformedAndUnknownMessagesKeepConnectionUsable(t *testing.T) {
	f := newRouterFixture(false)
	s, conn := f.connect(t)
	conn.reset()

	f.send(s, `not json`)
	f.send(s, `{"no_type_field":true}`)
	f.send(s, `{"type":"totally_new_thing"}`)

	if got := conn.all(); len(got) != 0 {
		t.Fatalf("expected silence, got %d frames", len(got))
	}

	// Session still works afterwards.
	f.send(s, `{"type":"set_name","name":"still-here"}`)
	if got := conn.typesSeen(t); len(got) != 1 || got[0] != "broadcaster_list" {
		t.Fatalf("frames after recovery = %v", got)
	}
	if n := f.m.Get(metrics.DropReasonUnknownType); n != 1 {
		t.Fatalf("unknown type count = %d, want 1", n)
	}
}

func TestLogoutClearsProfileAndBroadcast(t *testing.T) {
	f := newRouterFixture(false)
	s, _ := f.connect(t)
	f.send(s, `{"type":"start_broadcast","username":"bob"}`)

	f.send(s, `{"type":"logout"}`)

	if len(f.reg.Directory()) != 0 {
		t.Fatal("directory not empty after logout")
	}
	if s.DisplayName() != session.AnonymousName {
		t.Fatalf("name after logout = %q", s.DisplayName())
	}
	// Session itself survives logout.
	if _, ok := f.reg.Get(s.ID()); !ok {
		t.Fatal("session removed by logout")
	}
}

func TestDisconnectOfBroadcasterNotifiesOnce(t *testing.T) {
	f := newRouterFixture(false)
	b, _ := f.connect(t)
	_, vConn := f.connect(t)
	f.send(b, `{"type":"start_broadcast"}`)
	vConn.reset()

	f.router.HandleDisconnect(b)
	f.router.HandleDisconnect(b)

	got := vConn.typesSeen(t)
	if len(got) != 2 || got[0] != "broadcaster_ended" || got[1] != "broadcaster_list" {
		t.Fatalf("frames = %v, want exactly one [broadcaster_ended broadcaster_list]", got)
	}
	if _, ok := f.reg.Get(b.ID()); ok {
		t.Fatal("session still registered after disconnect")
	}
}

func TestDisconnectOfViewerIsSilent(t *testing.T) {
	f := newRouterFixture(false)
	v, _ := f.connect(t)
	_, otherConn := f.connect(t)
	otherConn.reset()

	f.router.HandleDisconnect(v)

	if got := otherConn.all(); len(got) != 0 {
		t.Fatalf("expected no frames, got %d", len(got))
	}
}

func TestFanoutSurvivesBrokenRecipient(t *testing.T) {
	reg := session.NewRegistry()
	m := metrics.New()
	fan := NewFanout(reg, m, nil)

	broken := &captureConn{err: errors.New("pipe closed")}
	healthy := &captureConn{}
	reg.Create(broken)
	reg.Create(healthy)

	fan.SendAll(broadcasterListMessage{Type: typeBroadcasterList, List: []broadcasterEntry{}})

	if got := healthy.all(); len(got) != 1 {
		t.Fatalf("healthy recipient got %d frames, want 1", len(got))
	}
	if n := m.Get(metrics.DropReasonSendFailure); n != 1 {
		t.Fatalf("send failure count = %d, want 1", n)
	}
	if n := m.Get(metrics.MessagesOut); n != 1 {
		t.Fatalf("messages out = %d, want 1", n)
	}
}
