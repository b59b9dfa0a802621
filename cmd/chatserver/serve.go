package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/config"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat relay server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewDefaultLogger()

	srv, err := server.New(server.Config{
		UsersDBPath:  cfg.UsersDBPath,
		ChatsDBPath:  cfg.ChatsDBPath,
		ChatsDir:     cfg.ChatsDir,
		ChatPageSize: cfg.ChatPageSize,
	}, log)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", srv.Handler())
	mux.Handle("/metrics", srv.MetricsHandler())
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down", logger.String("reason", "signal received"))
		_ = httpServer.Shutdown(context.Background())
	}()

	go func() {
		if err := srv.Serve(ctx, 0); err != nil && err != context.Canceled {
			log.Error("server loop exited", logger.Error(err))
		}
	}()

	log.Info("listening", logger.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	return srv.Close()
}
