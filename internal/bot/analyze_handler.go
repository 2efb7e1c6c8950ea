package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/nav"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
)

// AnalyzeHandler drives a user's capture flow from the chat: photos select
// the image, the Analyze button submits it and results come back as a message.
type AnalyzeHandler struct {
	tg       BotAPI
	api      AccountAPI
	sessions *session.Store
	flows    *capture.Flows
	handoffs *handoff.Store
}

func NewAnalyzeHandler(tg BotAPI, api AccountAPI, sessions *session.Store, flows *capture.Flows, handoffs *handoff.Store) *AnalyzeHandler {
	return &AnalyzeHandler{
		tg:       tg,
		api:      api,
		sessions: sessions,
		flows:    flows,
		handoffs: handoffs,
	}
}

func errorMessage(err error) string {
	if msg, ok := capture.Message(err); ok {
		return msg
	}
	return skinapi.UserMessage(err)
}

// HandleAnalyzeCommand shows the pending photo if there is one, otherwise asks
// for a photo.
func (h *AnalyzeHandler) HandleAnalyzeCommand(session *UserSession) {
	view := h.flows.For(session.ClientID()).Snapshot()
	if view.State == capture.Previewing {
		h.replyPreview(session, view)
		return
	}

	menu := nav.Build(nav.AnalyzePath, h.sessions.Get(session.ClientID()))
	session.replyWithMarkup(menuKeyboard(menu), MsgAnalyzePrompt)
}

// HandlePhoto selects the largest size of a photo message.
func (h *AnalyzeHandler) HandlePhoto(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	photo := message.Photo[len(message.Photo)-1]
	if photo.FileSize > capture.MaxImageBytes {
		h.replyError(session, capture.ErrImageTooLarge)
		return
	}

	data, contentType, err := downloadFileID(ctx, h.tg.GetFileDirectURL, photo.FileID)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to download photo")
		session.reply(MsgDownloadFailed)
		return
	}

	h.selectImage(session, "photo.jpg", contentType, data)
}

// HandleDocument accepts images sent as files, which keeps them uncompressed.
func (h *AnalyzeHandler) HandleDocument(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	doc := message.Document
	if !strings.HasPrefix(doc.MimeType, "image/") {
		session.reply(MsgNotAnImage)
		return
	}
	if doc.FileSize > capture.MaxImageBytes {
		h.replyError(session, capture.ErrImageTooLarge)
		return
	}

	data, _, err := downloadFileID(ctx, h.tg.GetFileDirectURL, doc.FileID)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to download document")
		session.reply(MsgDownloadFailed)
		return
	}

	h.selectImage(session, doc.FileName, doc.MimeType, data)
}

func (h *AnalyzeHandler) selectImage(session *UserSession, name, mimeType string, data []byte) {
	flow := h.flows.For(session.ClientID())
	if err := flow.SelectFile(name, mimeType, data); err != nil {
		log.Info().Err(err).Int64("userId", session.userId).Msg("rejected image")
		flow.DismissError()
		h.replyError(session, err)
		return
	}
	h.replyPreview(session, flow.Snapshot())
}

func (h *AnalyzeHandler) replyPreview(session *UserSession, view capture.View) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnAnalyze, callbackAnalyze),
			tgbotapi.NewInlineKeyboardButtonData(BtnChooseAnother, callbackReset),
		),
	)
	session.replyWithMarkup(keyboard, MsgPhotoReady, humanize.Bytes(uint64(view.Size)))
}

func (h *AnalyzeHandler) replyError(session *UserSession, err error) {
	session.reply("%s", escape(errorMessage(err)))
}

// HandleAnalyzeCallback submits the pending image. A logged-in user's token
// is attached so the analysis lands in their history.
func (h *AnalyzeHandler) HandleAnalyzeCallback(ctx context.Context, session *UserSession) {
	id := session.ClientID()
	flow := h.flows.For(id)
	s := h.sessions.Get(id)

	typingCtx, stopTyping := context.WithCancel(ctx)
	go session.startTypingLoop(typingCtx)
	result, err := flow.Analyze(ctx, s.Token)
	stopTyping()

	if err != nil {
		flow.DismissError()
		h.replyError(session, err)
		if errors.Is(err, capture.ErrNoImage) {
			session.reply(MsgAnalyzePrompt)
		}
		return
	}

	h.handoffs.Put(id, handoff.Entry{Result: result.Result, ImageRef: result.PreviewURL})
	h.ShowPendingResults(session)
	if !s.LoggedIn() {
		session.reply(MsgAnonymousNote)
	}
}

// ShowPendingResults consumes the user's handoff and sends it as a results
// message. It reports false when nothing was pending.
func (h *AnalyzeHandler) ShowPendingResults(session *UserSession) bool {
	id := session.ClientID()
	entry, ok := h.handoffs.Take(id)
	if !ok {
		return false
	}
	h.flows.Release(id)

	var imageURL string
	if ref := entry.Result.AnnotatedImageRef; ref != "" {
		imageURL = h.api.ImageURL(ref)
	}
	text := formatResults(entry, imageURL)

	if entry.FromHistory {
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(BtnDashboard, callbackDashboard),
			),
		)
		session.replyWithMarkup(keyboard, "%s", text)
		return true
	}
	session.reply("%s", text)
	return true
}

// Reset discards the pending image and releases the user's flow.
func (h *AnalyzeHandler) Reset(session *UserSession) {
	h.flows.For(session.ClientID()).Reset()
}

var tierEmoji = map[analysis.Tier]string{
	analysis.TierTop:    "🟢",
	analysis.TierSecond: "🟩",
	analysis.TierThird:  "🟡",
	analysis.TierLowest: "🟠",
}

// formatResults renders a handoff entry as a Markdown message.
func formatResults(entry handoff.Entry, imageURL string) string {
	r := entry.Result
	severity := string(r.Severity)
	if severity == "" {
		severity = "unknown"
	}

	var b strings.Builder
	b.WriteString(formatReplyText(MsgResultsHeader,
		tierEmoji[r.Tier()],
		r.DisplayScore(),
		escape(severity),
		english.Plural(r.AcneCount, "lesion", "lesions"),
	))
	if entry.FromHistory {
		if t, ok := analysis.ParseDate(r.Timestamp); ok {
			fmt.Fprintf(&b, "\nAnalyzed %s", humanize.Time(t))
		}
	}

	b.WriteString("\n\n")
	detections := r.MergedDetections()
	if len(detections) == 0 {
		b.WriteString(MsgResultsNoConcerns)
	} else {
		b.WriteString(MsgResultsConditions)
		for _, d := range detections {
			fmt.Fprintf(&b, "\n• *%s* (%d): %s", escape(d.DisplayLabel()), d.Count, escape(d.Description()))
		}
	}

	if r.Feedback != "" {
		fmt.Fprintf(&b, "\n\n%s\n%s", MsgResultsFeedback, escape(r.Feedback))
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "\n\n%s", MsgResultsRecommendations)
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "\n%d. %s", i+1, escape(rec))
		}
	}

	if imageURL != "" {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf(MsgResultsImage, escape(imageURL)))
	}

	return b.String()
}
