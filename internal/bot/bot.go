// Package bot is the Telegram front end. Each Telegram user is a client of
// the same session, capture, handoff and history stores the web shell uses.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// AccountAPI is the part of the skin API client the chat shell calls directly.
// Analysis and history go through capture.Flows and history.Views.
type AccountAPI interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, username, password string) (skinapi.LoginResponse, error)
	ImageURL(ref string) string
}

// Deps are the shared stores the chat shell works on.
type Deps struct {
	Sessions *session.Store
	API      AccountAPI
	Flows    *capture.Flows
	Handoffs *handoff.Store
	History  *history.Views
	// AllowedIDs restricts the bot to these Telegram users. Empty allows everyone.
	AllowedIDs []int64
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg       BotAPI
	state    BotState
	sessions *session.Store
	allowed  map[int64]bool

	// Handlers
	authHandler      *AuthHandler
	analyzeHandler   *AnalyzeHandler
	dashboardHandler *DashboardHandler
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, deps Deps) *Bot {
	bot := &Bot{
		tg:       tg,
		sessions: deps.Sessions,
	}
	if len(deps.AllowedIDs) > 0 {
		bot.allowed = make(map[int64]bool, len(deps.AllowedIDs))
		for _, id := range deps.AllowedIDs {
			bot.allowed[id] = true
		}
	}

	bot.state = bot.NewBotState()
	bot.authHandler = NewAuthHandler(deps.API, deps.Sessions, deps.History)
	bot.analyzeHandler = NewAnalyzeHandler(tg, deps.API, deps.Sessions, deps.Flows, deps.Handoffs)
	bot.dashboardHandler = NewDashboardHandler(deps.Sessions, deps.History, deps.Handoffs, bot.analyzeHandler)

	return bot
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// Shutdown stops all session workers.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

func (b *Bot) isAllowed(userId int64) bool {
	return b.allowed == nil || b.allowed[userId]
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	// Determine user ID from the update
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	// MUST be before getUserSession to prevent memory exhaustion from random user IDs
	if !b.isAllowed(userId) {
		log.Debug().Int64("userId", userId).Msg("dropped update from user not on the allow list")
		return
	}

	session := b.state.getUserSession(userId)

	// Helper to send sync or async based on flag
	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	message := update.Message
	log.Info().Int64("userId", userId).Bool("photo", len(message.Photo) > 0).Msg("got message")

	switch {
	case len(message.Photo) > 0:
		send(SessionMessage{Type: "photo", Ctx: ctx, Message: message})
	case message.Document != nil:
		send(SessionMessage{Type: "document", Ctx: ctx, Message: message})
	default:
		send(SessionMessage{Type: "text", Ctx: ctx, Message: message})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.handlePhotoMessage(ctx, session, msg.Message)
	case "document":
		b.handleDocumentMessage(ctx, session, msg.Message)
	case "text":
		b.handleTextMessage(ctx, session, msg.Message)
	}
}

func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.IsAuthFlowActive() {
		session.reply(MsgAuthInProgress)
		return
	}
	b.analyzeHandler.HandlePhoto(ctx, session, message)
}

func (b *Bot) handleDocumentMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.IsAuthFlowActive() {
		session.reply(MsgAuthInProgress)
		return
	}
	b.analyzeHandler.HandleDocument(ctx, session, message)
}

// handleTextMessage processes text messages.
// Called from session worker - no locking needed.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	// Handle auth flow
	if b.authHandler.HandleMessage(ctx, session, message) {
		return
	}

	b.handleCommand(ctx, session, message)
}

// handleCommand processes bot commands and menu button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, _ := parseCommand(message.Text)
	if c, ok := menuCommands[strings.TrimSpace(message.Text)]; ok {
		command = c
	}

	switch command {
	case "/start":
		b.handleStart(session)
	case "/login":
		b.authHandler.HandleLoginCommand(session)
	case "/register":
		b.authHandler.HandleRegisterCommand(session)
	case "/logout":
		b.authHandler.HandleLogoutCommand(session)
		b.handleStart(session)
	case "/analyze":
		b.analyzeHandler.HandleAnalyzeCommand(session)
	case "/results":
		if !b.analyzeHandler.ShowPendingResults(session) {
			session.reply(MsgNoPendingResults)
			b.handleStart(session)
		}
	case "/dashboard":
		b.dashboardHandler.HandleDashboardCommand(ctx, session)
	case "/cancel":
		b.analyzeHandler.Reset(session)
		session.replyAndRemoveCustomKeyboard(MsgCancelled)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgUnknownInput)
	}
}

// handleStart shows the welcome text and the menu for the current session.
func (b *Bot) handleStart(session *UserSession) {
	s := b.sessions.Get(session.ClientID())
	menu := buildMenu(s)
	if s.LoggedIn() {
		session.replyWithMarkup(menuKeyboard(menu), MsgWelcomeLoggedIn, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, menu.Greeting))
		return
	}
	session.replyWithMarkup(menuKeyboard(menu), MsgWelcomeLoggedOut, menu.Brand.Label)
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.tg.Request(callback); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback query")
	}

	if session.IsAuthFlowActive() {
		session.reply(MsgAuthInProgress)
		return
	}

	// Route to appropriate handler
	switch {
	case query.Data == callbackAnalyze:
		b.analyzeHandler.HandleAnalyzeCallback(ctx, session)
	case query.Data == callbackReset:
		b.analyzeHandler.Reset(session)
		session.reply(MsgCaptureReset)
	case query.Data == callbackDashboard:
		b.dashboardHandler.HandleDashboardCommand(ctx, session)
	case strings.HasPrefix(query.Data, historyCallbackPrefix):
		b.dashboardHandler.HandleCallback(ctx, session, query)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback data")
	}
}
