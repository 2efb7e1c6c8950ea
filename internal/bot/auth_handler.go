package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
)

// AuthHandler handles the login and registration flows.
type AuthHandler struct {
	api      AccountAPI
	sessions *session.Store
	history  *history.Views
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(api AccountAPI, sessions *session.Store, history *history.Views) *AuthHandler {
	return &AuthHandler{
		api:      api,
		sessions: sessions,
		history:  history,
	}
}

// HandleMessage handles messages during auth flow.
// Returns true if the message was handled (auth flow is active).
// Called from session worker - no locking needed.
func (h *AuthHandler) HandleMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) bool {
	if session.IsAuthFlowTimedOut() {
		registering := session.authFlow.IsRegistering()
		session.authFlow.Reset()
		if registering {
			session.reply(MsgRegisterTimeout)
		} else {
			session.reply(MsgLoginTimeout)
		}
		return true
	}

	if !session.IsAuthFlowActive() {
		return false
	}

	h.handleAuthFlowMessage(ctx, session, message)
	return true
}

// handleAuthFlowMessage handles messages during the login or registration flow.
// Called from session worker - no locking needed.
func (h *AuthHandler) handleAuthFlowMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	text := strings.TrimSpace(message.Text)

	if text == "/cancel" {
		session.authFlow.Reset()
		session.reply(MsgAuthCancelled)
		return
	}

	// Reject other commands during auth flow
	if strings.HasPrefix(text, "/") {
		session.reply(MsgAuthInProgress)
		return
	}

	session.authFlow.Touch()

	switch session.authFlow.State {
	case AuthStateAwaitingLoginUsername:
		session.authFlow.Username = text
		session.authFlow.State = AuthStateAwaitingLoginPassword
		session.reply(MsgLoginPromptPassword)
	case AuthStateAwaitingLoginPassword:
		// Passwords should not linger in the chat history
		session.deleteMessage(message.MessageID)
		h.finalizeLogin(ctx, session, message.Text)
	case AuthStateAwaitingRegisterUsername:
		session.authFlow.Username = text
		session.authFlow.State = AuthStateAwaitingRegisterEmail
		session.reply(MsgRegisterPromptEmail)
	case AuthStateAwaitingRegisterEmail:
		session.authFlow.Email = text
		session.authFlow.State = AuthStateAwaitingRegisterPassword
		session.reply(MsgRegisterPromptPassword)
	case AuthStateAwaitingRegisterPassword:
		session.deleteMessage(message.MessageID)
		h.finalizeRegister(ctx, session, message.Text)
	}
}

// HandleLoginCommand starts the login flow.
// Called from session worker - no locking needed.
func (h *AuthHandler) HandleLoginCommand(session *UserSession) {
	if s := h.sessions.Get(session.ClientID()); s.LoggedIn() {
		session.reply(MsgLoginAlreadyLoggedIn, escape(s.Username))
		return
	}

	session.authFlow.Reset()
	session.authFlow.State = AuthStateAwaitingLoginUsername
	session.authFlow.Touch()
	session.replyAndRemoveCustomKeyboard(MsgLoginPromptUsername)
}

// HandleRegisterCommand starts the registration flow.
func (h *AuthHandler) HandleRegisterCommand(session *UserSession) {
	if s := h.sessions.Get(session.ClientID()); s.LoggedIn() {
		session.reply(MsgLoginAlreadyLoggedIn, escape(s.Username))
		return
	}

	session.authFlow.Reset()
	session.authFlow.State = AuthStateAwaitingRegisterUsername
	session.authFlow.Touch()
	session.replyAndRemoveCustomKeyboard(MsgRegisterPromptUsername)
}

// HandleLogoutCommand clears the shared session for this user.
func (h *AuthHandler) HandleLogoutCommand(session *UserSession) {
	if !h.sessions.Get(session.ClientID()).LoggedIn() {
		session.reply(MsgNotLoggedIn)
		return
	}
	if err := h.sessions.Clear(session.ClientID()); err != nil {
		session.replyWithError(err)
		return
	}
	h.history.Forget(session.ClientID())
	log.Info().Int64("userId", session.userId).Msg("logged out")
	session.reply(MsgLogoutSuccess)
}

func (h *AuthHandler) finalizeLogin(ctx context.Context, session *UserSession, password string) {
	username := session.authFlow.Username
	session.authFlow.Reset()

	res, err := h.api.Login(ctx, username, password)
	if err != nil {
		log.Info().Err(err).Int64("userId", session.userId).Str("username", username).Msg("login failed")
		session.reply("%s", escape(skinapi.UserMessage(err)))
		return
	}

	if err := h.sessions.Set(session.ClientID(), res.AccessToken, res.Username); err != nil {
		log.Error().Err(err).Msg("failed to save session")
		session.reply("%s", escape(skinapi.MsgLoginFailed))
		return
	}
	h.history.Forget(session.ClientID())

	log.Info().Int64("userId", session.userId).Str("username", res.Username).Msg("logged in")
	menu := buildMenu(h.sessions.Get(session.ClientID()))
	session.replyWithMarkup(menuKeyboard(menu), MsgLoginSuccess, escape(res.Username))
}

func (h *AuthHandler) finalizeRegister(ctx context.Context, session *UserSession, password string) {
	username, email := session.authFlow.Username, session.authFlow.Email
	session.authFlow.Reset()

	if err := h.api.Register(ctx, username, email, password); err != nil {
		log.Info().Err(err).Int64("userId", session.userId).Str("username", username).Msg("registration failed")
		session.reply("%s", escape(skinapi.UserMessage(err)))
		return
	}

	log.Info().Int64("userId", session.userId).Str("username", username).Msg("registered")
	session.reply(MsgRegisterSuccess)
}
