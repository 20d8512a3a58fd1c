package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nrlabs/ashleyd/internal/chattransport"
	"github.com/nrlabs/ashleyd/internal/commands"
	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/dispatch"
	"github.com/nrlabs/ashleyd/internal/google"
	"github.com/nrlabs/ashleyd/internal/jobs"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/poller"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
	"github.com/nrlabs/ashleyd/internal/router"
	"github.com/nrlabs/ashleyd/internal/sqladapter"
	"github.com/nrlabs/ashleyd/internal/tasks"
)

// Runtime owns every long-lived collaborator the daemon wires together,
// per SPEC_FULL.md §3: the resolved Config, the memory store with its
// Embedder, the Google façade client, and the chat-transport client that
// holds the bot token. All are constructed eagerly in NewRuntime, once in
// main before the HTTP server binds, and closed on signal.
type Runtime struct {
	Cfg    *config.Config
	Logger *slog.Logger

	SQL        *sqladapter.Client
	Tasks      *tasks.Store
	Rendezvous *rendezvous.Store
	Memory     *memory.Store
	Jobs       *jobs.Compiler
	Pipelines  *dispatch.Pipelines
	Commands   *commands.Handlers
	Google     google.Client
	Chat       *chattransport.Client
	Router     *router.Server
	Poller     *poller.Poller
}

// ownerNotifier delivers a pre-computed agent answer to the owner over
// the chat transport, implementing dispatch.OwnerNotifier.
type ownerNotifier struct {
	chat        *chattransport.Client
	ownerChatID int64
}

func (n *ownerNotifier) Notify(ctx context.Context, agent, question, response string) error {
	text := fmt.Sprintf("[%s] Q: %s\nA: %s", agent, question, response)
	return n.chat.SendMessage(ctx, n.ownerChatID, text)
}

// NewRuntime resolves every collaborator named in SPEC_FULL.md §3/§4 from
// cfg and wires them together, matching the teacher's cmd/cortex/main.go
// component-construction order (store, rate limiter, dispatcher,
// scheduler, health monitor, api server).
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	sql := sqladapter.New(cfg.Postgres)

	taskStore := tasks.New(sql)
	rendStore := rendezvous.New(sql)
	memStore := memory.New(sql, memory.HashEmbedder{})
	jobCompiler := jobs.NewCompiler(cfg.Paths.SystemdUser, cfg.General.UnitPrefix, cfg.General.Port)

	chat := chattransport.New(cfg.Telegram.BotToken)

	var notifier dispatch.OwnerNotifier
	if strings.TrimSpace(cfg.Telegram.ChatID) != "" {
		ownerChatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.ChatID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("runtime: invalid telegram chat_id %q: %w", cfg.Telegram.ChatID, err)
		}
		notifier = &ownerNotifier{chat: chat, ownerChatID: ownerChatID}
	}

	pipelines := &dispatch.Pipelines{
		Cfg:            cfg,
		Invoker:        dispatch.NewInvoker(cfg.General.AgentCLI),
		Notifier:       notifier,
		LessonsLogPath: cfg.LessonsLogPath(),
		DispatchLogDir: cfg.DispatchLogDir(),
	}

	googleClient := google.Client(google.NopClient{})

	handlers := &commands.Handlers{
		Cfg:        cfg,
		Tasks:      taskStore,
		Rendezvous: rendStore,
		Memory:     memStore,
		Pipelines:  pipelines,
		Google:     googleClient,
	}

	routerSrv := &router.Server{
		Cfg:        cfg,
		Pipelines:  pipelines,
		Rendezvous: rendStore,
		Memory:     memStore,
		Jobs:       jobCompiler,
		Commands:   handlers,
		Google:     googleClient,
		Logger:     logger.With("component", "router"),
	}

	var p *poller.Poller
	if strings.TrimSpace(cfg.Telegram.BotToken) != "" && strings.TrimSpace(cfg.Telegram.ChatID) != "" {
		zl := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "poller").Logger()
		var err error
		p, err = poller.New(cfg, chat, handlers, rendStore, fmt.Sprintf("http://127.0.0.1:%d", cfg.General.Port), zl)
		if err != nil {
			return nil, fmt.Errorf("runtime: construct poller: %w", err)
		}
	}

	return &Runtime{
		Cfg:        cfg,
		Logger:     logger,
		SQL:        sql,
		Tasks:      taskStore,
		Rendezvous: rendStore,
		Memory:     memStore,
		Jobs:       jobCompiler,
		Pipelines:  pipelines,
		Commands:   handlers,
		Google:     googleClient,
		Chat:       chat,
		Router:     routerSrv,
		Poller:     p,
	}, nil
}

// Start launches the HTTP router and, if configured, the channel poller.
// Blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Poller != nil {
		go r.Poller.Run(ctx)
	} else {
		r.Logger.Warn("channel poller disabled: telegram bot_token or chat_id not configured")
	}

	go func() {
		<-ctx.Done()
		r.Logger.Info("runtime shutting down")
	}()

	return r.Router.Start(ctx)
}

// Close releases any resources the runtime holds open across its
// lifetime. Currently a no-op: every collaborator here is either
// stateless or closes its own subprocess handles per call.
func (r *Runtime) Close() error {
	return nil
}
