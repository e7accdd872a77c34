package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyu-mlab/gemini-proxy/internal/config"
	"github.com/nyu-mlab/gemini-proxy/internal/handler"
	"github.com/nyu-mlab/gemini-proxy/internal/model/user"
	"github.com/nyu-mlab/gemini-proxy/internal/service/ai"
	"github.com/nyu-mlab/gemini-proxy/internal/service/audit"
	"github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/service/ratelimit"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := validateConfig(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return fmt.Errorf("initialize %s model: %w", cfg.AI.Provider, err)
	}
	gateway, err := ai.NewGateway(ctx, chatModel, ai.Options{
		SystemPrompt: cfg.AI.SystemPrompt,
		Timeout:      cfg.AI.Timeout,
	}, log)
	if err != nil {
		return err
	}

	auditLog, err := openAudit(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close audit log")
		}
	}()

	chatSvc, err := chat.NewService(chat.Deps{
		Registry:     user.NewFileRegistry(cfg.Registry.Path, log),
		Store:        chat.NewStore(),
		Limiter:      ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window),
		Gateway:      gateway,
		Auditor:      auditLog,
		DefaultModel: cfg.AI.DefaultModel,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	if cfg.Session.IdleTimeout > 0 {
		go chatSvc.RunJanitor(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTimeout)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(chatSvc, log, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("provider", cfg.AI.Provider).
		Str("model", cfg.AI.DefaultModel).
		Str("allow_list", cfg.Registry.Path).
		Msg("gemini-proxy listening")
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func openAudit(c config.AuditConfig) (*audit.Logger, error) {
	sinks := make([]audit.Sink, 0, 2)

	jsonl, err := audit.OpenJSONL(c.Path)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, jsonl)

	if c.SQLitePath != "" {
		db, err := audit.OpenSQLite(c.SQLitePath, log)
		if err != nil {
			_ = jsonl.Close()
			return nil, err
		}
		sinks = append(sinks, db)
	}

	return audit.NewLogger(log, c.Buffer, sinks...), nil
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
