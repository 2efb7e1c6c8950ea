package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize/english"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/guard"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
)

// dashboardPageSize caps the records listed in one message; Telegram limits
// the size of inline keyboards.
const dashboardPageSize = 20

const (
	historyOpen    = "open"
	historyDelete  = "del"
	historyConfirm = "confirm"
	historyKeep    = "keep"
)

// DashboardHandler is the chat version of the dashboard view.
type DashboardHandler struct {
	sessions *session.Store
	history  *history.Views
	handoffs *handoff.Store
	results  *AnalyzeHandler
}

func NewDashboardHandler(sessions *session.Store, history *history.Views, handoffs *handoff.Store, results *AnalyzeHandler) *DashboardHandler {
	return &DashboardHandler{
		sessions: sessions,
		history:  history,
		handoffs: handoffs,
		results:  results,
	}
}

func historyCallback(action string, id analysis.RecordID) string {
	return historyCallbackPrefix + action + ":" + string(id)
}

// allowed applies the same guard as the web dashboard.
func (h *DashboardHandler) allowed(session *UserSession) (session.Session, bool) {
	s := h.sessions.Get(session.ClientID())
	if guard.Evaluate(s).State == guard.Redirected {
		session.reply(MsgLoginRequired)
		return s, false
	}
	return s, true
}

// HandleDashboardCommand lists the user's analyses with Open and Delete buttons.
func (h *DashboardHandler) HandleDashboardCommand(ctx context.Context, session *UserSession) {
	s, ok := h.allowed(session)
	if !ok {
		return
	}
	h.results.flows.Release(session.ClientID())

	view := h.history.For(session.ClientID())
	records, err := view.Load(ctx, s)
	if errors.Is(err, history.ErrLoginRequired) {
		session.reply(MsgSessionExpired)
		return
	}
	if err != nil {
		session.reply("%s", escape(err.Error()))
		return
	}

	if len(records) == 0 {
		session.reply(MsgDashboardEmpty)
		return
	}

	text, keyboard := formatDashboard(view.Summary(), records)
	session.replyWithMarkup(keyboard, "%s", text)
}

func formatDashboard(summary history.Summary, records []analysis.HistoryRecord) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString(formatReplyText(MsgDashboardHeader, english.Plural(summary.Total, "analysis", "analyses")))
	if summary.HasLatest {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(MsgDashboardLatest,
			formatScore(summary.LatestScore),
			escape(string(summary.LatestSeverity)),
		))
	}

	shown := records
	if len(shown) > dashboardPageSize {
		shown = shown[:dashboardPageSize]
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(shown))
	for _, rec := range shown {
		label := fmt.Sprintf("%s %s · %s", BtnOpen, recordDate(rec), formatScore(rec.Score))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, historyCallback(historyOpen, rec.ID)),
			tgbotapi.NewInlineKeyboardButtonData(BtnDelete, historyCallback(historyDelete, rec.ID)),
		))
	}
	if len(records) > len(shown) {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(MsgDashboardTruncated, len(shown)))
	}

	return b.String(), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatScore(score float64) string {
	return analysis.Result{Score: score}.DisplayScore()
}

func recordDate(rec analysis.HistoryRecord) string {
	if t, ok := analysis.ParseDate(rec.Date); ok {
		return t.Format("2006-01-02")
	}
	if rec.Date == "" {
		return "unknown date"
	}
	return rec.Date
}

// HandleCallback routes hist:<action>:<id> buttons.
func (h *DashboardHandler) HandleCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	action, rawID, ok := strings.Cut(strings.TrimPrefix(query.Data, historyCallbackPrefix), ":")
	if !ok || rawID == "" {
		log.Warn().Str("data", query.Data).Msg("malformed history callback")
		return
	}
	id := analysis.RecordID(rawID)

	s, allowed := h.allowed(session)
	if !allowed {
		return
	}
	view := h.history.For(session.ClientID())

	// Buttons outlive the process; reload the list they were rendered from
	if len(view.Records()) == 0 {
		if _, err := view.Load(ctx, s); errors.Is(err, history.ErrLoginRequired) {
			session.reply(MsgSessionExpired)
			return
		}
	}

	switch action {
	case historyOpen:
		entry, err := view.Open(id)
		if err != nil {
			session.reply(MsgRecordNotFound)
			return
		}
		h.handoffs.Put(session.ClientID(), entry)
		h.results.ShowPendingResults(session)
	case historyDelete:
		h.confirmDelete(session, view, id)
	case historyConfirm:
		h.deleteRecord(ctx, session, view, s, id)
	case historyKeep:
		session.reply(MsgDeleteKept)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown history action")
	}
}

func (h *DashboardHandler) confirmDelete(session *UserSession, view *history.View, id analysis.RecordID) {
	var rec analysis.HistoryRecord
	found := false
	for _, r := range view.Records() {
		if r.ID == id {
			rec, found = r, true
			break
		}
	}
	if !found {
		session.reply(MsgRecordNotFound)
		return
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnConfirmDelete, historyCallback(historyConfirm, id)),
			tgbotapi.NewInlineKeyboardButtonData(BtnKeep, historyCallback(historyKeep, id)),
		),
	)
	session.replyWithMarkup(keyboard, MsgDeleteConfirm, escape(recordDate(rec)), formatScore(rec.Score))
}

func (h *DashboardHandler) deleteRecord(ctx context.Context, session *UserSession, view *history.View, s session.Session, id analysis.RecordID) {
	if view.Pending(id) {
		session.reply(MsgDeletePending)
		return
	}

	err := view.Delete(ctx, s, id)
	switch {
	case err == nil:
		log.Info().Int64("userId", session.userId).Str("id", string(id)).Msg("analysis deleted")
		session.reply(MsgDeleteSuccess)
		if view.Summary().Total > 0 {
			text, keyboard := formatDashboard(view.Summary(), view.Records())
			session.replyWithMarkup(keyboard, "%s", text)
		}
	case errors.Is(err, history.ErrLoginRequired):
		session.reply(MsgSessionExpired)
	case errors.Is(err, history.ErrNotFound):
		session.reply(MsgRecordNotFound)
	default:
		session.reply("%s", escape(history.ErrDeleteFailed.Error()))
	}
}
