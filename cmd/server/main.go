// CherryRecorder server entry point. Wires the echo service, the chat
// session fabric (TCP line, WebSocket, and WebSocket-over-TLS listeners),
// and the HTTP/HTTPS front with its Places proxy, then waits for a stop
// signal and shuts everything down in order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/chat"
	"github.com/cherryrecorder/cherryrecorder-server/internal/config"
	"github.com/cherryrecorder/cherryrecorder-server/internal/data"
	"github.com/cherryrecorder/cherryrecorder-server/internal/echo"
	"github.com/cherryrecorder/cherryrecorder-server/internal/history"
	"github.com/cherryrecorder/cherryrecorder-server/internal/httpapi"
	"github.com/cherryrecorder/cherryrecorder-server/internal/logging"
	"github.com/cherryrecorder/cherryrecorder-server/internal/places"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("===========================================")
	log.Info("CherryRecorder Server")
	log.Info("===========================================")

	if cfg.HTTP.Threads > 0 {
		runtime.GOMAXPROCS(cfg.HTTP.Threads)
		log.Info("GOMAXPROCS override", zap.Int("threads", cfg.HTTP.Threads))
	}

	if cfg.Places.APIKey == "" {
		log.Warn("GOOGLE_MAPS_API_KEY not set; Places endpoints will answer 400")
	} else {
		log.Info("Google Maps API key loaded", zap.Int("length", len(cfg.Places.APIKey)))
	}

	policy, err := data.LoadChatPolicy(cfg.Chat.PolicyFile)
	if err != nil {
		return err
	}

	hist := history.New(cfg.History.Dir, cfg.History.Enabled, log)
	placesClient := places.NewClient(cfg.Places.APIKey, cfg.Places.RequestTimeout, log)

	registry := chat.NewRegistry(policy, hist, log)
	go registry.Run()

	// Echo service.
	echoServer, err := echo.New(fmt.Sprintf(":%d", cfg.Echo.Port), log)
	if err != nil {
		return err
	}
	go echoServer.Serve()

	// Chat: raw TCP line listener.
	tcpListener, err := chat.NewTCPListener(fmt.Sprintf(":%d", cfg.Chat.TCPPort),
		registry, policy, cfg.Chat.WriteTimeout, log)
	if err != nil {
		return err
	}
	go tcpListener.Serve()

	// Chat: WebSocket listener.
	wsHandler := chat.NewWSServer(registry, policy, cfg.Chat.AllowedOrigins,
		cfg.Chat.WriteTimeout, false, log)
	wsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Chat.WSPort),
		Handler: wsHandler.Handler(),
	}
	go serveHTTP(wsServer, "", "", log)
	log.Info("chat WebSocket listener started", zap.String("addr", wsServer.Addr))

	// Chat: WebSocket-over-TLS listener, only with a cert/key pair.
	var wssServer *http.Server
	if cfg.WSSEnabled() {
		wssHandler := chat.NewWSServer(registry, policy, cfg.Chat.AllowedOrigins,
			cfg.Chat.WriteTimeout, true, log)
		wssServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Chat.SSLPort),
			Handler: wssHandler.Handler(),
		}
		go serveHTTP(wssServer, cfg.HTTP.CertPath, cfg.HTTP.KeyPath, log)
		log.Info("chat WSS listener started", zap.String("addr", wssServer.Addr))
	}

	// HTTP front.
	api := httpapi.NewHandler(placesClient, log)
	routes := api.Routes()
	httpServer := httpapi.CreateServer(
		fmt.Sprintf("%s:%d", cfg.HTTP.BindIP, cfg.HTTP.Port), routes)
	go serveHTTP(httpServer, "", "", log)
	log.Info("HTTP server started", zap.String("addr", httpServer.Addr))

	// HTTPS front, only with a cert/key pair.
	var httpsServer *http.Server
	if cfg.HTTPSEnabled() {
		httpsServer = httpapi.CreateServer(
			fmt.Sprintf("%s:%d", cfg.HTTP.BindIP, cfg.HTTP.HTTPSPort), routes)
		go serveHTTP(httpsServer, cfg.HTTP.CertPath, cfg.HTTP.KeyPath, log)
		log.Info("HTTPS server started", zap.String("addr", httpsServer.Addr))
	} else {
		log.Warn("SSL certificate not provided, HTTPS server disabled")
	}

	log.Info("all servers started",
		zap.Int("http", cfg.HTTP.Port),
		zap.Int("chat_ws", cfg.Chat.WSPort),
		zap.Int("chat_tcp", cfg.Chat.TCPPort),
		zap.Int("echo", cfg.Echo.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("stop signal received, shutting down")

	// Listeners first so no new sessions arrive, then the session fabric,
	// then the side services.
	_ = httpapi.ShutdownServer(wsServer, 5*time.Second, log)
	if wssServer != nil {
		_ = httpapi.ShutdownServer(wssServer, 5*time.Second, log)
	}
	_ = tcpListener.Close()

	_ = registry.Shutdown(context.Background(), 10*time.Second)

	_ = httpapi.ShutdownServer(httpServer, 5*time.Second, log)
	if httpsServer != nil {
		_ = httpapi.ShutdownServer(httpsServer, 5*time.Second, log)
	}
	_ = echoServer.Close()

	log.Info("shutdown complete")
	return nil
}

// serveHTTP runs one HTTP server to completion, with or without TLS.
func serveHTTP(srv *http.Server, certPath, keyPath string, log *zap.Logger) {
	var err error
	if certPath != "" && keyPath != "" {
		err = srv.ListenAndServeTLS(certPath, keyPath)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("HTTP server exited", zap.String("addr", srv.Addr), zap.Error(err))
	}
}
