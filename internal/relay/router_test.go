package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/backend"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/metrics"
)

// fakeBackend records every request path and serves the status/data
// envelope contract of the backend of record.
type fakeBackend struct {
	mu      sync.Mutex
	paths   []string
	bodies  map[string][]byte
	failing map[string]bool
	members string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		bodies:  make(map[string][]byte),
		failing: make(map[string]bool),
		members: `{"conversation_user_id":"A","conversation_admin_id":"B"}`,
	}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies[r.URL.Path] = body
	fail := f.failing[r.URL.Path]
	f.mu.Unlock()

	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/messages/conversation/") {
		_, _ = w.Write([]byte(`{"status":true,"data":` + f.members + `}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":true,"data":{}}`))
}

func (f *fakeBackend) body(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakeBackend) called(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if p == path {
			return true
		}
	}
	return false
}

func newTestRouter(t *testing.T, fb *fakeBackend) (*Router, *Hub) {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	log := zap.NewNop().Sugar()
	bc := backend.NewClient(srv.URL, 5*time.Second, log)
	hub := NewHub(log)
	return NewRouter(hub, bc, backend.NewMemberCache(bc, log), nil, nil, log), hub
}

func decode(t *testing.T, b []byte) Payload {
	t.Helper()
	require.NotNil(t, b)
	var p Payload
	require.NoError(t, json.Unmarshal(b, &p))
	return p
}

func TestSendMessageDeliversToBothSides(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	frame := `{"type":"send_message","conversation_id":"C1","message_id":"M1","message":"hi","time":"now"}`
	r.HandleFrame(context.Background(), userA, []byte(frame))

	require.True(t, fb.called("/messages/send"))

	for _, c := range []*Client{userA, adminB} {
		p := decode(t, recv(t, c))
		assert.Equal(t, KindMessageSent, p.Type)
		assert.Equal(t, "M1", p.MessageID)
		assert.Equal(t, "hi", p.Message)
		assert.Equal(t, "A", p.SenderID)
		assert.Equal(t, "phone", p.DeviceID)
	}
}

func TestAdminSenderAlsoMirroredToOtherAdmins(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	adminC := testClient("C", "desk2", true)
	hub.Register(userA)
	hub.Register(adminB)
	hub.Register(adminC)

	frame := `{"type":"send_message","conversation_id":"C1","message_id":"M2","message":"yo"}`
	r.HandleFrame(context.Background(), adminB, []byte(frame))

	assert.Equal(t, KindMessageSent, decode(t, recv(t, userA)).Type)
	assert.Equal(t, KindMessageSent, decode(t, recv(t, adminC)).Type)
	// B got exactly one copy, via the conversation fan-out
	require.NotNil(t, recv(t, adminB))
	assert.Nil(t, recv(t, adminB))
}

func TestMutationFailureAbortsFanOut(t *testing.T) {
	fb := newFakeBackend()
	fb.failing["/messages/send"] = true
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	frame := `{"type":"send_message","conversation_id":"C1","message_id":"M1","message":"hi"}`
	r.HandleFrame(context.Background(), userA, []byte(frame))

	assert.Nil(t, recv(t, userA))
	assert.Nil(t, recv(t, adminB))
	assert.False(t, fb.called("/messages/conversation/C1"),
		"membership must not be resolved once the write failed")
}

func TestActivityFansOutWithoutBackendWrite(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	r.HandleFrame(context.Background(), userA, []byte(`{"type":"active-typing","conversation_id":"C1"}`))

	p := decode(t, recv(t, adminB))
	assert.Equal(t, KindActiveTyping, p.Type)
	assert.Equal(t, "A", p.SenderID)
	assert.False(t, fb.called("/messages/send"))
	assert.False(t, fb.called("/messages/read"))
}

func TestAdminOpenChatReachesUserOnly(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	r.HandleFrame(context.Background(), adminB, []byte(`{"type":"admin_open_chat","conversation_id":"C1"}`))

	require.True(t, fb.called("/messages/read-all"))
	p := decode(t, recv(t, userA))
	assert.Equal(t, KindAdminOpenChat, p.Type)
	assert.Equal(t, "C1", p.ConversationID)
	assert.Equal(t, "B", p.SenderID)
	assert.Nil(t, recv(t, adminB))
}

func TestUnresolvedMembershipSkipsFanOut(t *testing.T) {
	fb := newFakeBackend()
	fb.failing["/messages/conversation/C1"] = true
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	hub.Register(userA)

	r.HandleFrame(context.Background(), userA, []byte(`{"type":"focus","conversation_id":"C1"}`))
	assert.Nil(t, recv(t, userA))
}

func TestMalformedAndUnknownFramesAreDiscarded(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	hub.Register(userA)

	r.HandleFrame(context.Background(), userA, []byte(`not json`))
	r.HandleFrame(context.Background(), userA, []byte(`{"type":"teleport"}`))

	assert.Nil(t, recv(t, userA))
	assert.True(t, userA.Open(), "bad frames must not close the connection")
}

func TestAdminLoginBroadcastExcludesSelf(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	hub.Register(userA)

	adminB := testClient("B", "desk", true)
	r.Connected(context.Background(), adminB)

	require.True(t, fb.called("/messages/delivered-all"))
	require.True(t, fb.called("/admin/user/status/B"))

	p := decode(t, recv(t, userA))
	assert.Equal(t, KindAdminLogin, p.Type)
	assert.Nil(t, recv(t, adminB))
	assert.True(t, hub.UserOnline("B"))
}

func TestUserLoginNotifiesAdmins(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	adminB := testClient("B", "desk", true)
	hub.Register(adminB)

	userA := NewClient(nil, Identity{
		UserID:         "A",
		DeviceID:       "phone",
		ConversationID: "C1",
		Token:          "tok-A",
		OnApp:          false,
	}, 8, 100)
	r.Connected(context.Background(), userA)

	require.True(t, fb.called("/messages/read-all"), "off-app login marks read")

	p := decode(t, recv(t, adminB))
	assert.Equal(t, KindUserLogin, p.Type)
	assert.Equal(t, "C1", p.ConversationID)
	assert.Equal(t, "A", p.UserID)
	require.NotNil(t, p.UserOnWebmaster)
	assert.False(t, *p.UserOnWebmaster)
}

func TestUnknownKindsShareOneMetricSeries(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	hub.Register(userA)

	before := testutil.CollectAndCount(metrics.Events)
	for i := 0; i < 50; i++ {
		r.HandleFrame(context.Background(), userA, []byte(fmt.Sprintf(`{"type":"junk-%d"}`, i)))
	}
	after := testutil.CollectAndCount(metrics.Events)
	assert.LessOrEqual(t, after, before+1,
		"client-supplied kinds must not mint new series")
	assert.Nil(t, recv(t, userA))
}

func TestEditMessageSendsRealMessageID(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	frame := `{"type":"edit_message","conversation_id":"C1","message_id":"M9","message":"fixed"}`
	r.HandleFrame(context.Background(), userA, []byte(frame))

	var req struct {
		Message   string `json:"message"`
		MessageID string `json:"message_id"`
	}
	require.NoError(t, json.Unmarshal(fb.body("/messages/update"), &req))
	assert.Equal(t, "fixed", req.Message)
	assert.Equal(t, "M9", req.MessageID)

	p := decode(t, recv(t, adminB))
	assert.Equal(t, KindMessageEdited, p.Type)
	assert.Equal(t, "M9", p.MessageID)
}

func TestCloseDoesNotCancelInFlightBackendCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/messages/send" {
			close(started)
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/messages/conversation/") {
			_, _ = w.Write([]byte(`{"status":true,"data":{"conversation_user_id":"A","conversation_admin_id":"B"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{}}`))
	}))
	t.Cleanup(srv.Close)

	log := zap.NewNop().Sugar()
	bc := backend.NewClient(srv.URL, 5*time.Second, log)
	hub := NewHub(log)
	r := NewRouter(hub, bc, backend.NewMemberCache(bc, log), nil, nil, log)

	userA := testClient("A", "phone", false)
	adminB := testClient("B", "desk", true)
	hub.Register(userA)
	hub.Register(adminB)

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := `{"type":"send_message","conversation_id":"C1","message_id":"M1","message":"hi"}`
		r.HandleFrame(context.Background(), userA, []byte(frame))
	}()

	// sender goes away while the backend write is still in flight
	<-started
	hub.Remove(userA)
	userA.Close()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("frame handling did not finish")
	}

	p := decode(t, recv(t, adminB))
	assert.Equal(t, KindMessageSent, p.Type)
	assert.Equal(t, "M1", p.MessageID)
	assert.Equal(t, "A", p.SenderID)
}

func TestDisconnectTogglesPresenceOff(t *testing.T) {
	fb := newFakeBackend()
	r, hub := newTestRouter(t, fb)

	userA := testClient("A", "phone", false)
	r.Connected(context.Background(), userA)
	require.True(t, hub.UserOnline("A"))

	r.Disconnected(context.Background(), userA)
	assert.False(t, hub.UserOnline("A"))
	assert.True(t, fb.called("/admin/user/status/A"))
}
