package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tokligence/chat-relay/internal/config"
	"github.com/tokligence/chat-relay/internal/httpserver"
	"github.com/tokligence/chat-relay/internal/logging"
	"github.com/tokligence/chat-relay/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat completions relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_address)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "relayd "+version.FullInfo())
		},
	}

	root := &cobra.Command{
		Use:          "relayd",
		Short:        "OpenAI-compatible chat completions relay for Gemini, OpenRouter and OpenAI",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	root.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_address)")
	root.AddCommand(serveCmd, versionCmd)
	return root
}

func serve(ctx context.Context, addrOverride string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if addrOverride != "" {
		cfg.HTTPAddress = addrOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOut, closeLog, err := logging.Setup("[relayd] ", logging.Options{File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	defer closeLog()

	chatAdapter, err := buildAdapter(cfg, logging.New(logOut, "[relayd/"+cfg.Provider+"] "))
	if err != nil {
		return err
	}

	recorder, exchangeDB, err := openExchangeLog(ctx, cfg, logging.New(logOut, "[relayd/exchange] "))
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Printf("close exchange log: %v", err)
		}
	}()

	httpSrv := httpserver.New(chatAdapter, recorder)
	httpSrv.SetLogger(cfg.LogLevel, logging.New(logOut, "[relayd/http] "))
	httpSrv.SetReadinessChecker(newReadinessChecker(chatAdapter, exchangeDB))

	// No write timeout: streamed completions stay open for as long as the provider generates.
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("relayd %s env=%s provider=%s model=%s", version.Info(), cfg.Environment, chatAdapter.Name(), chatAdapter.Model())
	if recorder.Enabled() {
		log.Printf("exchange log enabled sink=%s", cfg.ExchangeLogSink)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Printf("relay listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
