package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"golang.org/x/term"

	"github.com/raine/skinanalyze/config"
)

var setupClient = resty.New().SetTimeout(10 * time.Second)

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
// This is used to determine if we can run the interactive setup wizard.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetupWizard collects the configuration on first run and writes it to the
// user's config directory. Returns true if startup should continue.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🔬 SkinAnalyze - First-time Setup"))
	fmt.Println()

	apiURL := config.DefaultAPIURL
	var botToken, allowedIDs string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Skin analysis API URL").
				Description("Base URL of the analysis backend").
				Value(&apiURL).
				Validate(validateAPIURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token (optional)").
				Description("Leave empty to run the web client only. Message @BotFather → /newbot → copy token").
				Value(&botToken).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					return validateTelegramToken(strings.TrimSpace(s))
				}),
			huh.NewInput().
				Title("Allowed Telegram user IDs (optional)").
				Description("Comma separated. Empty allows everyone. Message @userinfobot to get your ID").
				Value(&allowedIDs).
				Validate(func(s string) error {
					_, err := config.ParseTelegramIDs(s)
					return err
				}),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"SKIN_API_URL":         strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		"SESSION_KEY":          generateSessionKey(),
		"BOT_TOKEN":            strings.TrimSpace(botToken),
		"ALLOWED_TELEGRAM_IDS": strings.TrimSpace(allowedIDs),
	}

	configPath, err := config.FilePath()
	if err == nil {
		err = config.WriteEnvFile(configPath, values)
	}
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}

	for k, v := range values {
		if v != "" {
			os.Setenv(k, v)
		}
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	fmt.Println("Starting...")
	fmt.Println()

	return true
}

func generateSessionKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("skin-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// validateAPIURL accepts any URL that answers HTTP. The backend has no
// dedicated health endpoint, so a 404 on the root still proves it is up.
func validateAPIURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}

	if _, err := setupClient.R().Get(u.String()); err != nil {
		return errors.New("no response - is the backend running?")
	}
	return nil
}

// validateTelegramToken validates a Telegram bot token by calling the getMe API.
func validateTelegramToken(token string) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}

	_, err := setupClient.R().
		SetResult(&result).
		SetError(&result).
		Get(fmt.Sprintf("https://api.telegram.org/bot%s/getMe", token))
	if err != nil {
		return errors.New("connection failed - check your internet")
	}

	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return errors.New("token rejected by Telegram")
	}

	return nil
}
