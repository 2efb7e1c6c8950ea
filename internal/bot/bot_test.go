package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
	"github.com/raine/skinanalyze/internal/storage"
)

const testUserId = int64(1)

const testAnalyzeBody = `{
	"skin_score": 72, "severity": "mild", "acne_count": 2,
	"feedback": "Mild congestion on the nose",
	"recommendations": "[\"Use sunscreen\"]",
	"detection_summary": {"blackhead": 2},
	"annotated_image_url": "/static/annotated/a.jpg"
}`

const testHistoryRecord = `{"id": 7, "date": "2025-05-01T10:00:00", "score": 64, "severity": "moderate",
	"acne_count": 5, "detection_summary": "{\"papular\": 5}", "image_path": "/static/7.jpg"}`

// fakeTelegram records everything the bot sends.
type fakeTelegram struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	fileBase string
	nextID   int
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if mc, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, mc)
	}
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetFileDirectURL(fileID string) (string, error) {
	return f.fileBase + "/files/" + fileID, nil
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.sent))
	for i, m := range f.sent {
		texts[i] = m.Text
	}
	return texts
}

func (f *fakeTelegram) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTelegram) deleted(messageID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok && d.MessageID == messageID {
			return true
		}
	}
	return false
}

func (f *fakeTelegram) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// fakeBackend plays both the skin API and Telegram's file server.
type fakeBackend struct {
	mu            sync.Mutex
	analyzeAuth   []string
	registerCalls int
	historyCalls  int
	deleted       []string
	fileRequests  []string
	photo         []byte
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON := func(status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
	authorized := r.Header.Get("Authorization") == "Bearer tok-alice"

	switch {
	case strings.HasPrefix(r.URL.Path, "/files/"):
		b.fileRequests = append(b.fileRequests, strings.TrimPrefix(r.URL.Path, "/files/"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(b.photo)
	case r.URL.Path == "/login":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] == "alice" && body["password"] == "secret1" {
			writeJSON(200, `{"access_token": "tok-alice", "username": "alice"}`)
			return
		}
		writeJSON(401, `{"detail": "Incorrect username or password"}`)
	case r.URL.Path == "/register":
		b.registerCalls++
		writeJSON(201, `{"message": "created"}`)
	case r.URL.Path == "/api/analyze":
		b.analyzeAuth = append(b.analyzeAuth, r.Header.Get("Authorization"))
		writeJSON(200, testAnalyzeBody)
	case r.URL.Path == "/api/history" && r.Method == http.MethodGet:
		b.historyCalls++
		if !authorized {
			writeJSON(401, `{"detail": "Token expired"}`)
			return
		}
		if len(b.deleted) > 0 {
			writeJSON(200, `{"history": []}`)
			return
		}
		writeJSON(200, `{"history": [`+testHistoryRecord+`]}`)
	case strings.HasPrefix(r.URL.Path, "/api/history/") && r.Method == http.MethodDelete:
		if !authorized {
			writeJSON(401, `{"detail": "Token expired"}`)
			return
		}
		b.deleted = append(b.deleted, strings.TrimPrefix(r.URL.Path, "/api/history/"))
		writeJSON(200, `{"message": "deleted"}`)
	default:
		http.NotFound(w, r)
	}
}

// backendCalls is a copy of what fakeBackend has seen so far.
type backendCalls struct {
	analyzeAuth   []string
	registerCalls int
	historyCalls  int
	deleted       []string
	fileRequests  []string
}

func (b *fakeBackend) snapshot() backendCalls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backendCalls{
		analyzeAuth:   append([]string(nil), b.analyzeAuth...),
		registerCalls: b.registerCalls,
		historyCalls:  b.historyCalls,
		deleted:       append([]string(nil), b.deleted...),
		fileRequests:  append([]string(nil), b.fileRequests...),
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type harness struct {
	tg       *fakeTelegram
	backend  *fakeBackend
	bot      *Bot
	sessions *session.Store
	handoffs *handoff.Store
}

func newHarness(t *testing.T, allowed ...int64) *harness {
	t.Helper()
	backend := &fakeBackend{photo: testJPEG(t)}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	tg := &fakeTelegram{fileBase: server.URL}
	api := skinapi.NewClient(skinapi.ClientOpts{BaseURL: server.URL, Timeout: 5 * time.Second})
	sessions := session.NewStore(storage.NewMemoryStore())
	handoffs := handoff.NewStore()
	devices := capture.NewDeviceManager(func(ctx context.Context) (capture.Device, error) {
		return nil, errors.New("no camera in tests")
	})

	b := NewBot(tg, Deps{
		Sessions:   sessions,
		API:        api,
		Flows:      capture.NewFlows(devices, api),
		Handoffs:   handoffs,
		History:    history.NewViews(api, sessions),
		AllowedIDs: allowed,
	})
	t.Cleanup(b.Shutdown)

	return &harness{tg: tg, backend: backend, bot: b, sessions: sessions, handoffs: handoffs}
}

func (h *harness) text(text string) {
	h.textWithID(text, 0)
}

func (h *harness) textWithID(text string, messageID int) {
	h.bot.handleUpdateSync(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: messageID,
			From:      &tgbotapi.User{ID: testUserId},
			Text:      text,
		},
	})
}

func (h *harness) callback(data string) {
	h.bot.handleUpdateSync(context.Background(), tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb",
			From: &tgbotapi.User{ID: testUserId},
			Data: data,
		},
	})
}

func (h *harness) photo() {
	h.bot.handleUpdateSync(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 3,
			From:      &tgbotapi.User{ID: testUserId},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", Width: 90, Height: 90, FileSize: 100},
				{FileID: "big", Width: 800, Height: 800, FileSize: 1000},
			},
		},
	})
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sessions.Set(ClientID(testUserId), "tok-alice", "alice"))
}

func inlineCallbacks(t *testing.T, msg tgbotapi.MessageConfig) [][]string {
	t.Helper()
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "expected an inline keyboard, got %T", msg.ReplyMarkup)
	var rows [][]string
	for _, row := range markup.InlineKeyboard {
		var data []string
		for _, btn := range row {
			require.NotNil(t, btn.CallbackData)
			data = append(data, *btn.CallbackData)
		}
		rows = append(rows, data)
	}
	return rows
}

func replyLabels(t *testing.T, msg tgbotapi.MessageConfig) []string {
	t.Helper()
	markup, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok, "expected a reply keyboard, got %T", msg.ReplyMarkup)
	var labels []string
	for _, row := range markup.Keyboard {
		for _, btn := range row {
			labels = append(labels, btn.Text)
		}
	}
	return labels
}

func TestStart_LoggedOutMenu(t *testing.T) {
	h := newHarness(t)
	h.text("/start")

	msg := h.tg.last()
	assert.Contains(t, msg.Text, "Welcome to *SkinAnalyze*")
	assert.Equal(t, []string{"Home", "Analyze", "Login", "Sign Up"}, replyLabels(t, msg))
}

func TestStart_LoggedInMenu(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.text("/start")

	msg := h.tg.last()
	assert.Contains(t, msg.Text, "Hi, alice!")
	assert.Equal(t, []string{"Home", "Analyze", "Dashboard", "Logout"}, replyLabels(t, msg))
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t)

	h.text("/login")
	assert.Equal(t, MsgLoginPromptUsername, h.tg.last().Text)

	h.text("alice")
	assert.Equal(t, MsgLoginPromptPassword, h.tg.last().Text)

	h.textWithID("secret1", 55)
	assert.Equal(t, "Logged in as *alice*. Send a photo to analyze it.", h.tg.last().Text)
	assert.True(t, h.tg.deleted(55), "password message should be removed from the chat")

	s := h.sessions.Get(ClientID(testUserId))
	assert.Equal(t, session.Session{Token: "tok-alice", Username: "alice"}, s)

	h.text("/login")
	assert.Contains(t, h.tg.last().Text, "already logged in as *alice*")
}

func TestLoginFlow_BadCredentials(t *testing.T) {
	h := newHarness(t)

	h.text("/login")
	h.text("alice")
	h.text("wrong")

	assert.Equal(t, "Incorrect username or password", h.tg.last().Text)
	assert.False(t, h.sessions.Get(ClientID(testUserId)).LoggedIn())

	// The flow is over; commands work again
	h.text("/start")
	assert.Contains(t, h.tg.last().Text, "Welcome")
}

func TestLoginFlow_RejectsCommandsAndCancels(t *testing.T) {
	h := newHarness(t)

	h.text("/login")
	h.text("/dashboard")
	assert.Equal(t, MsgAuthInProgress, h.tg.last().Text)

	h.callback(callbackAnalyze)
	assert.Equal(t, MsgAuthInProgress, h.tg.last().Text)

	h.text("/cancel")
	assert.Equal(t, MsgAuthCancelled, h.tg.last().Text)

	h.text("/dashboard")
	assert.Equal(t, MsgLoginRequired, h.tg.last().Text)
}

func TestLoginFlow_Timeout(t *testing.T) {
	h := newHarness(t)
	h.text("/login")

	us := h.bot.state.getUserSession(testUserId)
	us.SendSync(SessionMessage{Type: "noop"}) // barrier before touching worker state
	us.authFlow.LastInteraction = time.Now().Add(-AuthFlowTimeout - time.Minute)

	h.text("alice")
	assert.Equal(t, MsgLoginTimeout, h.tg.last().Text)
	assert.Equal(t, AuthStateNone, us.GetAuthFlowState())
}

func TestRegisterFlow(t *testing.T) {
	h := newHarness(t)

	h.text("/register")
	assert.Equal(t, MsgRegisterPromptUsername, h.tg.last().Text)
	h.text("bob")
	assert.Equal(t, MsgRegisterPromptEmail, h.tg.last().Text)
	h.text("bob@example.com")
	assert.Equal(t, MsgRegisterPromptPassword, h.tg.last().Text)
	h.textWithID("secret1", 77)

	assert.Equal(t, MsgRegisterSuccess, h.tg.last().Text)
	assert.True(t, h.tg.deleted(77))
	assert.Equal(t, 1, h.backend.snapshot().registerCalls)
	assert.False(t, h.sessions.Get(ClientID(testUserId)).LoggedIn(), "registration does not log in")
}

func TestRegisterFlow_ShortPasswordFailsLocally(t *testing.T) {
	h := newHarness(t)

	h.text("/register")
	h.text("bob")
	h.text("bob@example.com")
	h.text("abc")

	assert.Equal(t, "Password must be at least 6 characters.", h.tg.last().Text)
	assert.Equal(t, 0, h.backend.snapshot().registerCalls)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.text("/logout")
	assert.Contains(t, h.tg.texts(), MsgLogoutSuccess)
	assert.False(t, h.sessions.Get(ClientID(testUserId)).LoggedIn())

	// Logging out also works from the menu button
	h.login(t)
	h.text("Logout")
	assert.False(t, h.sessions.Get(ClientID(testUserId)).LoggedIn())
}

func TestPhoto_AnonymousAnalyze(t *testing.T) {
	h := newHarness(t)

	h.photo()
	preview := h.tg.last()
	assert.Contains(t, preview.Text, "Photo ready (")
	assert.Equal(t, [][]string{{callbackAnalyze, callbackReset}}, inlineCallbacks(t, preview))
	assert.Equal(t, []string{"big"}, h.backend.snapshot().fileRequests, "the largest photo size is downloaded")

	h.tg.clear()
	h.callback(callbackAnalyze)

	texts := h.tg.texts()
	require.Len(t, texts, 2)
	results := texts[0]
	assert.Contains(t, results, "*Skin score: 72*")
	assert.Contains(t, results, "Severity: mild")
	assert.Contains(t, results, "Acne count: 2 lesions")
	assert.Contains(t, results, "• *blackhead* (2): Open comedones with oxidized sebum")
	assert.Contains(t, results, "1. Use sunscreen")
	assert.Contains(t, results, "/static/annotated/a.jpg")
	assert.Equal(t, MsgAnonymousNote, texts[1])

	assert.Equal(t, []string{""}, h.backend.snapshot().analyzeAuth, "anonymous analysis carries no token")

	// The handoff was consumed and the flow released
	_, pending := h.handoffs.Take(ClientID(testUserId))
	assert.False(t, pending)
	h.text("/results")
	assert.Contains(t, h.tg.texts(), MsgNoPendingResults)
}

func TestPhoto_AuthenticatedAnalyze(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.photo()
	h.callback(callbackAnalyze)

	assert.Equal(t, []string{"Bearer tok-alice"}, h.backend.snapshot().analyzeAuth)
	assert.NotContains(t, h.tg.texts(), MsgAnonymousNote)
}

func TestAnalyze_WithoutPhotoMakesNoCall(t *testing.T) {
	h := newHarness(t)

	h.callback(callbackAnalyze)

	assert.Contains(t, h.tg.texts(), "Please select or capture an image first.")
	assert.Empty(t, h.backend.snapshot().analyzeAuth)
}

func TestAnalyze_ResetDiscardsPhoto(t *testing.T) {
	h := newHarness(t)

	h.photo()
	h.callback(callbackReset)
	assert.Equal(t, MsgCaptureReset, h.tg.last().Text)

	h.callback(callbackAnalyze)
	assert.Contains(t, h.tg.texts(), "Please select or capture an image first.")
	assert.Empty(t, h.backend.snapshot().analyzeAuth)
}

func TestAnalyzeCommand_ShowsPendingPhoto(t *testing.T) {
	h := newHarness(t)

	h.text("/analyze")
	msg := h.tg.last()
	assert.Equal(t, MsgAnalyzePrompt, msg.Text)
	assert.Equal(t, []string{"Back"}, replyLabels(t, msg))

	h.photo()
	h.text("/analyze")
	assert.Contains(t, h.tg.last().Text, "Photo ready (")
}

func TestDocument_NotAnImage(t *testing.T) {
	h := newHarness(t)

	h.bot.handleUpdateSync(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			From:     &tgbotapi.User{ID: testUserId},
			Document: &tgbotapi.Document{FileID: "doc", FileName: "notes.pdf", MimeType: "application/pdf"},
		},
	})

	assert.Equal(t, MsgNotAnImage, h.tg.last().Text)
	assert.Empty(t, h.backend.snapshot().fileRequests)
}

func TestDocument_Image(t *testing.T) {
	h := newHarness(t)

	h.bot.handleUpdateSync(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			From:     &tgbotapi.User{ID: testUserId},
			Document: &tgbotapi.Document{FileID: "doc", FileName: "face.jpg", MimeType: "image/jpeg", FileSize: 2000},
		},
	})

	assert.Contains(t, h.tg.last().Text, "Photo ready (")
	assert.Equal(t, []string{"doc"}, h.backend.snapshot().fileRequests)
}

func TestDashboard_RequiresLogin(t *testing.T) {
	h := newHarness(t)

	h.text("/dashboard")

	assert.Equal(t, MsgLoginRequired, h.tg.last().Text)
	assert.Equal(t, 0, h.backend.snapshot().historyCalls)
}

func TestDashboard_OpenAndDelete(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.text("/dashboard")
	list := h.tg.last()
	assert.Contains(t, list.Text, "Total: 1 analysis")
	assert.Contains(t, list.Text, "Latest: 64 (moderate)")
	assert.Equal(t, [][]string{{"hist:open:7", "hist:del:7"}}, inlineCallbacks(t, list))

	h.callback("hist:open:7")
	results := h.tg.last()
	assert.Contains(t, results.Text, "*Skin score: 64*")
	assert.Contains(t, results.Text, "*papular* (5)")
	assert.Contains(t, results.Text, "/static/7.jpg")
	assert.Equal(t, [][]string{{callbackDashboard}}, inlineCallbacks(t, results))

	h.callback("hist:del:7")
	confirm := h.tg.last()
	assert.Equal(t, "Delete analysis from 2025-05-01 (score 64)? This cannot be undone.", confirm.Text)
	assert.Equal(t, [][]string{{"hist:confirm:7", "hist:keep:7"}}, inlineCallbacks(t, confirm))
	assert.Empty(t, h.backend.snapshot().deleted, "nothing is deleted before confirmation")

	h.callback("hist:keep:7")
	assert.Equal(t, MsgDeleteKept, h.tg.last().Text)

	h.callback("hist:confirm:7")
	assert.Equal(t, MsgDeleteSuccess, h.tg.last().Text)
	assert.Equal(t, []string{"7"}, h.backend.snapshot().deleted)

	h.text("/dashboard")
	assert.Equal(t, MsgDashboardEmpty, h.tg.last().Text)
}

func TestDashboard_UnknownRecord(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.callback("hist:open:999")
	assert.Equal(t, MsgRecordNotFound, h.tg.last().Text)
}

func TestDashboard_ExpiredTokenClearsSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.Set(ClientID(testUserId), "tok-expired", "alice"))

	h.text("/dashboard")

	assert.Equal(t, MsgSessionExpired, h.tg.last().Text)
	assert.False(t, h.sessions.Get(ClientID(testUserId)).LoggedIn())
}

func TestAllowList(t *testing.T) {
	h := newHarness(t, 2)

	h.text("/start")

	assert.Empty(t, h.tg.texts(), "users outside the allow list are ignored")
}

func TestUnknownText(t *testing.T) {
	h := newHarness(t)
	h.text("hello there")
	assert.Equal(t, MsgUnknownInput, h.tg.last().Text)
}

func TestRegisterCommands(t *testing.T) {
	tg := &fakeTelegram{}
	RegisterCommands(tg)

	require.Len(t, tg.requests, 1)
	cfg, ok := tg.requests[0].(tgbotapi.SetMyCommandsConfig)
	require.True(t, ok)
	assert.Len(t, cfg.Commands, len(botCommands))
}

func TestFormatResults_NoConcerns(t *testing.T) {
	text := formatResults(handoff.Entry{Result: analysis.Result{Score: 91, Severity: analysis.SeverityClear}}, "")

	assert.Contains(t, text, "🟢 *Skin score: 91*")
	assert.Contains(t, text, "Acne count: 0 lesions")
	assert.Contains(t, text, MsgResultsNoConcerns)
	assert.NotContains(t, text, MsgResultsFeedback)
	assert.NotContains(t, text, "Annotated image")
}

func TestFormatResults_EscapesMarkdown(t *testing.T) {
	text := formatResults(handoff.Entry{Result: analysis.Result{
		Score:      40,
		Detections: map[string]int{"acne_scars": 1},
		Feedback:   "Use *less* product_x",
	}}, "")

	assert.Contains(t, text, "🟠")
	assert.Contains(t, text, "*acne scars* (1)")
	assert.Contains(t, text, `Use \*less\* product\_x`)
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("/start@skin_bot now")
	assert.Equal(t, "/start", cmd)
	assert.Equal(t, []string{"now"}, args)

	cmd, args = parseCommand("   ")
	assert.Equal(t, "", cmd)
	assert.Empty(t, args)
}
