// Package app orchestrates all components of sessionhub.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/bots/slack"
	"github.com/sessionhub/sessionhub/internal/bots/telegram"
	"github.com/sessionhub/sessionhub/internal/config"
	"github.com/sessionhub/sessionhub/internal/destinations"
	"github.com/sessionhub/sessionhub/internal/index"
	"github.com/sessionhub/sessionhub/internal/preview"
	"github.com/sessionhub/sessionhub/internal/search"
	"github.com/sessionhub/sessionhub/internal/searchstate"
	"github.com/sessionhub/sessionhub/internal/server/httpapi"
	"github.com/sessionhub/sessionhub/internal/tailer"
)

const shutdownTimeout = 10 * time.Second

// App wires the indexer, search engine, destination manager, chat handlers
// and HTTP server together.
type App struct {
	cfg     *config.Config
	version string

	registry *config.Registry
	indexer  *index.Indexer
	watcher  *index.Watcher
	engine   *search.Engine
	states   *searchstate.Store
	replayer *tailer.Replayer
	manager  *destinations.Manager

	httpServer  *httpapi.Server
	slackBot    *slack.Handler
	telegramBot *telegram.Handler
	slackPoster *slack.HTTPPoster
	previewer   *preview.FileProvider
	startTime   time.Time

	mu      sync.Mutex
	running bool
}

// New builds the application from configuration.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:       cfg,
		version:   version,
		startTime: time.Now(),
	}

	a.registry = config.NewRegistry(cfg.Index.StateDir)
	if err := a.registry.Load(); err != nil {
		return nil, fmt.Errorf("load session registry: %w", err)
	}

	a.indexer = index.New(index.Options{
		Roots:            cfg.Index.Roots,
		IncludeSubagents: cfg.Index.IncludeSubagents,
		StateDir:         cfg.Index.StateDir,
		Persist:          cfg.Index.Persist,
		MaxIndexAge:      time.Duration(cfg.Index.MaxIndexAgeHours * float64(time.Hour)),
	})
	a.engine = search.NewEngine(a.indexer)
	a.states = searchstate.NewStore(searchstate.DefaultTTL)
	a.previewer = preview.NewFileProvider()

	a.replayer = tailer.New(a.previewer)
	a.manager = destinations.New(a.registry, a.replayer)

	if cfg.Watcher.Enabled {
		a.watcher = index.NewWatcher(a.indexer)
	}

	if cfg.Telegram.Enabled {
		pub := telegram.NewPublisher(cfg.Telegram.BotToken, "")
		a.replayer.RegisterPublisher(string(destinations.KindTelegram), pub)
		a.telegramBot = telegram.New(a.engine, a.states, a.manager, a.previewer, a.replayer, pub)
		if err := a.registry.SetBotConfig(string(destinations.KindTelegram), cfg.Telegram.BotToken); err != nil {
			return nil, fmt.Errorf("persist telegram bot config: %w", err)
		}
	}
	if cfg.Slack.Enabled {
		a.slackPoster = slack.NewHTTPPoster()
		pub := slack.NewAPIPublisher(cfg.Slack.BotToken, "")
		a.replayer.RegisterPublisher(string(destinations.KindSlack), pub)
		a.slackBot = slack.New(a.engine, a.states, a.manager, a.previewer, a.replayer, a.slackPoster)
		if err := a.registry.SetBotConfig(string(destinations.KindSlack), cfg.Slack.BotToken); err != nil {
			return nil, fmt.Errorf("persist slack bot config: %w", err)
		}
	}

	a.httpServer = httpapi.New(cfg.Server.Host, cfg.Server.Port, httpapi.Deps{
		Indexer:      a.indexer,
		Engine:       a.engine,
		Destinations: a.manager,
		Registry:     a.registry,
		Preview:      a.previewer,
		Tailer:       a.replayer,
		Version:      version,
	})
	if a.slackBot != nil {
		a.httpServer.Mount("/webhooks/slack/command", a.slackBot.SlashCommandHandler())
		a.httpServer.Mount("/webhooks/slack/actions", a.slackBot.ActionsHandler())
	}
	if a.telegramBot != nil {
		a.httpServer.Mount("/webhooks/telegram", a.telegramBot.WebhookHandler())
	}

	return a, nil
}

// Start runs the service until ctx is cancelled, then shuts down.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.manager.RestoreFromConfig(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore destinations")
	}

	// Build the index before accepting traffic so the first request does not
	// pay the full-scan cost.
	if idx, err := a.indexer.GetIndex(); err == nil {
		log.Info().Int("sessions", len(idx.Sessions)).Int("projects", len(idx.Projects)).Msg("index ready")
	}

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start index watcher")
		}
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	log.Info().
		Str("version", a.version).
		Str("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)).
		Bool("slack", a.slackBot != nil).
		Bool("telegram", a.telegramBot != nil).
		Msg("sessionhub started")

	<-ctx.Done()
	return a.stop()
}

func (a *App) stop() error {
	log.Info().Msg("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.slackBot != nil {
		a.slackBot.Wait()
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	log.Info().Dur("uptime", time.Since(a.startTime)).Msg("sessionhub stopped")
	return nil
}
