package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/api"
	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/diff"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/forward"
	"github.com/drawbridge-labs/drawbridge/internal/httpcall"
	"github.com/drawbridge-labs/drawbridge/internal/inventory"
	"github.com/drawbridge-labs/drawbridge/internal/parse"
	"github.com/drawbridge-labs/drawbridge/internal/proxy"
	"github.com/drawbridge-labs/drawbridge/internal/snmp"
	"github.com/drawbridge-labs/drawbridge/internal/sshgw"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transfer"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	genKey := flag.Bool("gen-key", false, "generate an API key and its hash, then exit")
	hashSecret := flag.String("hash-secret", "", "hash a secret for the config file and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("drawbridge %s\n", version)
		os.Exit(0)
	}

	if *genKey {
		key, hash, err := generateAPIKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("key:  %s\nhash: %s\n", key, hash)
		os.Exit(0)
	}

	if *hashSecret != "" {
		fmt.Println(config.HashSecret(*hashSecret))
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting drawbridge", "version", version, "serial", cfg.Service.Serial, "listen", cfg.Server.Listen)

	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Service.DevicesFile != "" {
		n, err := seedDevices(ctx, store, cfg.Service.DevicesFile)
		if err != nil {
			logger.Error("failed to load devices file", "path", cfg.Service.DevicesFile, "error", err)
			os.Exit(1)
		}
		logger.Info("devices file loaded", "path", cfg.Service.DevicesFile, "devices", n)
	}

	transportOpts := transport.Options{
		ConnectTimeout:    cfg.Transport.ConnectTimeout,
		KeepaliveInterval: cfg.Transport.KeepaliveInterval,
		KnownHostsPath:    cfg.Transport.KnownHostsPath,
		InsecureHostKeys:  cfg.Transport.InsecureHostKeys,
	}
	registry := transport.DefaultRegistry(transportOpts)
	sessions := transport.NewManager(registry, cfg.Exec.SessionIdleTimeout, logger)
	sessions.Start()
	defer sessions.Stop()

	inv := inventory.NewService(store, cfg.Service.Serial, cfg.Service.Name)
	execSvc := exec.NewService(store, inv, sessions, cfg.Exec, cfg.RemovePromptsDefault(), logger)
	parseSvc := parse.NewService(parse.DefaultRegistry(), execSvc, store, logger)
	diffSvc := diff.NewService(parseSvc, store)
	transferSvc := transfer.NewService(store, transportOpts, logger)
	snmpSvc := snmp.NewService(store, logger)
	httpSvc := httpcall.NewService(store, httpcall.Options{InsecureTLS: true}, logger)
	forwards := forward.NewManager(store, logger)
	defer forwards.StopAll()

	var proxySrv *proxy.Server
	if cfg.Proxy.Enabled {
		proxySrv = proxy.NewServer(cfg.Proxy, store, cfg.Service.Serial, logger)
		status, err := proxySrv.Start(false)
		if err != nil {
			logger.Error("failed to start proxy", "error", err)
			os.Exit(1)
		}
		logger.Info("proxy started", "http", status.HTTPAddr, "socks", status.SOCKSAddr)
		go watchProxy(ctx, proxySrv, logger, cancel)
	}

	if cfg.SSHGw.Enabled {
		gw := sshgw.NewGateway(cfg.SSHGw, cfg.Service.Serial, store, sessions, logger)
		ln, err := net.Listen("tcp", cfg.SSHGw.Listen)
		if err != nil {
			logger.Error("failed to bind ssh gateway", "listen", cfg.SSHGw.Listen, "error", err)
			os.Exit(1)
		}
		logger.Info("ssh gateway listening", "listen", cfg.SSHGw.Listen)
		go func() {
			if err := gw.Serve(ln); err != nil && ctx.Err() == nil {
				logger.Error("ssh gateway error", "error", err)
				cancel()
			}
		}()
		defer gw.Shutdown(context.Background())
	}

	retentionWorker := storage.NewRetentionWorker(store, cfg.Database.CommandLogRetentionDays, cfg.Database.RetentionPeriod, logger)
	go retentionWorker.Run(ctx)

	srv := api.NewServer(cfg, api.Deps{
		Store:     store,
		Inventory: inv,
		Exec:      execSvc,
		Parse:     parseSvc,
		Diff:      diffSvc,
		Transfer:  transferSvc,
		SNMP:      snmpSvc,
		HTTPCall:  httpSvc,
		Forwards:  forwards,
		Proxy:     proxySrv,
		Sessions:  sessions,
	}, logger, version)
	httpServer := startHTTPServer(cfg, srv, logger, cancel)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if proxySrv != nil {
		if err := proxySrv.Stop(shutdownCtx); err != nil {
			logger.Error("proxy shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func watchProxy(ctx context.Context, srv *proxy.Server, logger *slog.Logger, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
	case err := <-srv.Err():
		logger.Error("proxy error", "error", err)
		cancel()
	}
}

func startHTTPServer(cfg *config.Config, handler http.Handler, logger *slog.Logger, cancel context.CancelFunc) *http.Server {
	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		go func() {
			logger.Info("starting HTTPS server", "listen", cfg.Server.Listen)
			if err := httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTPS server error", "error", err)
				cancel()
			}
		}()
	} else {
		go func() {
			logger.Info("starting HTTP server", "listen", cfg.Server.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
				cancel()
			}
		}()
	}

	return httpServer
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
