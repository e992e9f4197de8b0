package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/api"
	"github.com/nidhogg/proposagent/internal/app"
	"github.com/nidhogg/proposagent/internal/command"
	"github.com/nidhogg/proposagent/internal/config"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/router"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat gateways",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config, 3210)")
	return cmd
}

func serve(parent context.Context, g *globalFlags, port int) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig(g, true, config.RequireOllama)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// The broadcaster must exist before the hub so A2A broadcasts reach
	// every chat platform.
	gw := gateway.New(logger.Named("gateway"))
	broadcaster := gateway.NewBroadcaster(gw, logger.Named("broadcast"))

	a, err := buildApp(ctx, g, cfg, logger, app.Options{Recorders: []a2a.Recorder{broadcaster}})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Hub.Register(ctx, a.Agent.Info()); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	defer a.Hub.Unregister(context.Background(), a.Agent.ID())

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, command.Deps{
		Hub:       a.Hub,
		Tools:     a.Tools,
		Knowledge: knowledgeOrNil(a),
		Status:    gw,
		AgentID:   a.Agent.ID(),
		Table:     a.Table,
	})
	msgRouter := router.New(a.Agent, gw, commands, logger.Named("router"), router.WithObserver(a.Metrics))
	gw.SetHandler(msgRouter.Handle)

	persona := &gateway.Persona{Name: a.Agent.Name(), Emoji: ":robot_face:"}
	rest := gateway.NewRESTAdapter(gateway.DefaultReplyTimeout, logger)
	gw.Register(rest)
	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		slack := gateway.NewSlackAdapter(s.BotToken, s.AppToken, logger)
		slack.SetPersona(a.Agent.ID(), persona)
		gw.Register(slack)
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		discord := gateway.NewDiscordAdapter(d.BotToken, logger)
		discord.SetPersona(a.Agent.ID(), persona)
		if d.BroadcastChannel != "" {
			discord.SetBroadcastChannel(d.BroadcastChannel)
		}
		gw.Register(discord)
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	defer gw.Close()

	h := api.NewHandler(api.Deps{
		Agent:       a.Agent,
		Hub:         a.Hub,
		Tools:       a.Tools,
		Knowledge:   knowledgeOrNil(a),
		Graph:       graphOrNil(a),
		Archive:     archiveOrNil(a),
		Gateway:     gw,
		REST:        rest,
		Broadcaster: broadcaster,
		Metrics:     a.Metrics,
		Table:       a.Table,
	}, logger.Named("api"))

	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ProPosAgent listening",
			zap.Int("port", port),
			zap.String("agent", a.Agent.ID()),
			zap.Strings("gateways", gw.Adapters()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// knowledgeOrNil keeps a disabled knowledge base a nil interface.
func knowledgeOrNil(a *app.App) interface {
	api.Knowledge
	command.Knowledge
} {
	if a.Knowledge == nil {
		return nil
	}
	return a.Knowledge
}

func graphOrNil(a *app.App) api.Graph {
	if a.Graph == nil {
		return nil
	}
	return a.Graph
}

func archiveOrNil(a *app.App) api.Archive {
	if a.Archive == nil {
		return nil
	}
	return a.Archive
}
