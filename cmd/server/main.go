// Package main initializes and starts the GophStego API server, setting up
// configuration, logging, the operation history, the steganography engine,
// handlers and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/config"
	"github.com/atinyakov/GophStego/internal/db"
	"github.com/atinyakov/GophStego/internal/logger"
	"github.com/atinyakov/GophStego/internal/repository"
	"github.com/atinyakov/GophStego/internal/server/handler/http"
	"github.com/atinyakov/GophStego/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// history is both the engine sink and the source of GET /api/history.
type history interface {
	service.HistorySink
	http.HistoryService
}

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()
	addr := options.Port

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Select the history store: PostgreSQL when a DSN is configured,
	// otherwise a local JSON file.
	var hist history
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			zapLogger.Fatal("cannot init database", zap.Error(err))
		}
		defer postgresDB.Close()

		db.StartHistoryCleaner(ctx, postgresDB,
			time.Hour, // interval
			time.Duration(options.HistoryRetention),
			zapLogger,
		)
		hist = repository.NewPostgresHistory(postgresDB)
		zapLogger.Info("using PostgreSQL history")
	} else {
		hist = repository.NewJSONHistory(options.HistoryFile, options.HistoryMax)
		zapLogger.Info("using JSON history", zap.String("path", options.HistoryFile))
	}

	// Initialize the steganography engine.
	stegoService, err := service.NewStegoService(service.Config{
		Envelope:        options.Envelope,
		GifCapRatio:     options.GifCapRatio,
		ImageThroughput: options.ImageThroughput,
		GifThroughput:   options.GifThroughput,
	}, hist, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init engine", zap.Error(err))
	}

	// Create HTTP handlers and build the router with middleware and routes.
	stegoHandler := &http.StegoHandler{Stego: stegoService, MaxUploadBytes: options.MaxUploadBytes}
	historyHandler := &http.HistoryHandler{History: hist}
	router := http.NewRouter(stegoHandler, historyHandler, zapLogger, http.RouterOptions{
		RequireClientCert: !options.Insecure,
	})

	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !options.Insecure {
		tlsConfig, err := serverTLS(options)
		if err != nil {
			zapLogger.Fatal("failed to configure TLS", zap.Error(err))
		}
		server.TLSConfig = tlsConfig
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	if options.Insecure {
		zapLogger.Warn("starting plain HTTP server", zap.String("addr", addr))
		err = server.ListenAndServe()
	} else {
		zapLogger.Info("starting HTTPS server", zap.String("addr", addr))
		err = server.ListenAndServeTLS("", "")
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

// serverTLS loads the server certificate and the CA used to verify client
// certificates. Clients without a certificate are still accepted and recorded
// as anonymous.
func serverTLS(options *config.Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load server TLS cert/key: %w", err)
	}

	caCert, err := os.ReadFile(options.TLSCA)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, errors.New("append CA cert to pool")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
