package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

// recordingHandler logs what the worker hands it. Messages whose text is
// "hold" block until release is closed; "boom" panics.
type recordingHandler struct {
	mu      sync.Mutex
	seen    []string
	ctxVals []any

	started chan struct{}
	release chan struct{}
}

func newRecordingHandler(blocking bool) *recordingHandler {
	h := &recordingHandler{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	if !blocking {
		close(h.release)
	}
	return h
}

func (h *recordingHandler) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	label := msg.Type
	if msg.Message != nil {
		label += ":" + msg.Message.Text
	}

	h.mu.Lock()
	h.seen = append(h.seen, label)
	h.ctxVals = append(h.ctxVals, ctx.Value(ctxKey{}))
	h.mu.Unlock()

	if msg.Message == nil {
		return
	}
	switch msg.Message.Text {
	case "boom":
		panic("handler blew up")
	case "hold":
		h.started <- struct{}{}
		<-h.release
	}
}

func (h *recordingHandler) log() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func textMsg(text string) SessionMessage {
	return SessionMessage{Type: "text", Message: &tgbotapi.Message{Text: text}}
}

func startSession(t *testing.T, userId int64, h MessageHandler) *UserSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "session"))
	s := &UserSession{
		userId:   userId,
		clientID: ClientID(userId),
		inbox:    make(chan SessionMessage, 10),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.SetHandler(h)
	s.StartWorker()
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorker_ProcessesInOrder(t *testing.T) {
	h := newRecordingHandler(false)
	s := startSession(t, 1, h)

	s.Send(textMsg("/login"))
	s.Send(textMsg("alice"))
	s.Send(SessionMessage{Type: "photo"})
	s.SendSync(SessionMessage{Type: "callback"})

	assert.Equal(t, []string{"text:/login", "text:alice", "photo", "callback"}, h.log())
}

func TestWorker_SurvivesPanic(t *testing.T) {
	h := newRecordingHandler(false)
	s := startSession(t, 1, h)

	s.SendSync(textMsg("boom"))
	s.SendSync(textMsg("/start"))

	assert.Equal(t, []string{"text:boom", "text:/start"}, h.log())
}

func TestWorker_UsesMessageContextWhenGiven(t *testing.T) {
	h := newRecordingHandler(false)
	s := startSession(t, 1, h)

	msg := textMsg("/dashboard")
	msg.Ctx = context.WithValue(context.Background(), ctxKey{}, "update")
	s.SendSync(msg)
	s.SendSync(textMsg("/start"))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []any{"update", "session"}, h.ctxVals)
}

func TestWorker_UsersDoNotBlockEachOther(t *testing.T) {
	slow := newRecordingHandler(true)
	a := startSession(t, 1, slow)
	fast := newRecordingHandler(false)
	b := startSession(t, 2, fast)

	go a.SendSync(textMsg("hold"))
	waitFor(t, slow.started, "user 1 to start")

	b.SendSync(textMsg("/analyze"))
	assert.Equal(t, []string{"text:/analyze"}, fast.log())
	assert.Equal(t, []string{"text:hold"}, slow.log())

	close(slow.release)
}

func TestWorker_SendSyncWaitsForHandler(t *testing.T) {
	h := newRecordingHandler(true)
	s := startSession(t, 1, h)

	returned := make(chan struct{})
	go func() {
		s.SendSync(textMsg("hold"))
		close(returned)
	}()
	waitFor(t, h.started, "handler to start")

	select {
	case <-returned:
		t.Fatal("SendSync returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.release)
	waitFor(t, returned, "SendSync to return")
}

func TestWorker_StopReleasesQueuedCallers(t *testing.T) {
	h := newRecordingHandler(true)
	ctx, cancel := context.WithCancel(context.Background())
	s := &UserSession{
		userId:  1,
		inbox:   make(chan SessionMessage, 10),
		ctx:     ctx,
		cancel:  cancel,
		handler: h,
	}

	// Queue before the worker runs so Stop finds them in the inbox
	var dones []chan struct{}
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		dones = append(dones, done)
		s.inbox <- SessionMessage{Type: "text", Done: done}
	}
	cancel()
	s.StartWorker()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	waitFor(t, stopped, "Stop")

	for i, done := range dones {
		select {
		case <-done:
		default:
			require.Failf(t, "queued caller still waiting", "message %d", i)
		}
	}
}

func TestWorker_SendSyncAfterStopReturns(t *testing.T) {
	h := newRecordingHandler(false)
	s := startSession(t, 1, h)
	s.Stop()

	returned := make(chan struct{})
	go func() {
		s.SendSync(textMsg("/start"))
		close(returned)
	}()
	waitFor(t, returned, "SendSync on a stopped session")
	assert.Empty(t, h.log())
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "tg:42", ClientID(42))
	assert.Equal(t, "tg:-100", ClientID(-100))
}

func TestAuthFlow_Timeout(t *testing.T) {
	f := NewAuthFlow()
	assert.False(t, f.IsTimedOut(), "inactive flows never time out")

	f.State = AuthStateAwaitingRegisterEmail
	assert.True(t, f.IsRegistering())
	f.LastInteraction = time.Now().Add(-AuthFlowTimeout - time.Second)
	assert.True(t, f.IsTimedOut())

	f.Touch()
	assert.False(t, f.IsTimedOut())

	f.Username = "alice"
	f.Reset()
	assert.Equal(t, AuthStateNone, f.State)
	assert.Empty(t, f.Username)
	assert.Equal(t, "None", f.State.String())
}
