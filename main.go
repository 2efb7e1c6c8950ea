package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/skinanalyze/config"
	"github.com/raine/skinanalyze/internal/bot"
	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
	"github.com/raine/skinanalyze/internal/storage"
	"github.com/raine/skinanalyze/internal/sweeper"
	"github.com/raine/skinanalyze/internal/web"
)

const logFileName = "skinanalyze.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	if missing := config.CheckRequiredConfig(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				waitOnWindows()
				os.Exit(1)
			}
		} else {
			fatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd (journald handles it, and ProtectSystem=strict
	// makes the working directory read-only).
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("invalid config: %v", err)
	}

	encryptionKey, err := storage.DeriveKey(cfg.SessionKey)
	if err != nil {
		fatalWithWait("failed to derive encryption key: %v", err)
	}

	sessionDB, err := storage.NewSQLiteStore(cfg.DBPath, encryptionKey)
	if err != nil {
		fatalWithWait("failed to initialize session store: %v", err)
	}
	defer sessionDB.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("session store initialized")

	sessions := session.NewStore(sessionDB)
	api := skinapi.NewClient(skinapi.ClientOpts{BaseURL: cfg.APIURL})
	log.Info().Str("apiURL", api.BaseURL()).Msg("using analysis API")

	devices := capture.NewDeviceManager(capture.FFmpegOpener(cfg.CameraDevice))
	flows := capture.NewFlows(devices, api)
	handoffs := handoff.NewStore()
	views := history.NewViews(api, sessions)

	server, err := web.NewServer(web.Deps{
		Sessions: sessions,
		API:      api,
		Flows:    flows,
		Handoffs: handoffs,
		History:  views,
	})
	if err != nil {
		fatalWithWait("failed to initialize web client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx, cfg.ListenAddr)
	})

	if cfg.BotEnabled() {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			fatalWithWait("failed to initialize telegram bot: %v", err)
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

		bot.RegisterCommands(tg)

		b := bot.NewBot(tg, bot.Deps{
			Sessions:   sessions,
			API:        api,
			Flows:      flows,
			Handoffs:   handoffs,
			History:    views,
			AllowedIDs: cfg.AllowedTelegramIDs,
		})
		g.Go(func() error {
			return runBot(ctx, tg, b)
		})
	} else {
		log.Info().Msg("BOT_TOKEN not set, telegram client disabled")
	}

	sweeperService := sweeper.NewService(flows, handoffs, cfg.FlowIdleTimeout)
	g.Go(func() error {
		sweeperService.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}

	// Cameras are external processes; don't leave one running
	flows.ReleaseIdle(0)
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer b.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
