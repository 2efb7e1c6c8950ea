package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/raine/skinanalyze/internal/nav"
	"github.com/raine/skinanalyze/internal/session"
)

const (
	callbackAnalyze       = "analyze"
	callbackReset         = "reset"
	callbackDashboard     = "dashboard"
	historyCallbackPrefix = "hist:"
)

const logoutLabel = "Logout"

// menuCommands maps reply keyboard labels to the command they stand for.
var menuCommands = map[string]string{
	"Home":      "/start",
	"Back":      "/start",
	"Analyze":   "/analyze",
	"Dashboard": "/dashboard",
	"Login":     "/login",
	"Sign Up":   "/register",
	logoutLabel: "/logout",
}

// buildMenu is the chat version of the home view's navigation menu.
func buildMenu(s session.Session) nav.Menu {
	return nav.Build(nav.HomePath, s)
}

// menuKeyboard renders the menu links as a persistent reply keyboard, two
// buttons per row.
func menuKeyboard(menu nav.Menu) tgbotapi.ReplyKeyboardMarkup {
	labels := make([]string, 0, len(menu.Links)+1)
	for _, l := range menu.Links {
		labels = append(labels, l.Label)
	}
	if menu.Logout {
		labels = append(labels, logoutLabel)
	}

	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(labels); i += 2 {
		row := []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(labels[i])}
		if i+1 < len(labels) {
			row = append(row, tgbotapi.NewKeyboardButton(labels[i+1]))
		}
		rows = append(rows, row)
	}

	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	return keyboard
}
