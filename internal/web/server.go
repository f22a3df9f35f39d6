package web

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Server holds the HTTP server and its dependencies, serving spec.md
// §6's inbound endpoints: the chat surface (ChatHandler), the
// conversation browser (ConversationsHandler), and liveness
// (HealthHandler).
type Server struct {
	mux                  *http.ServeMux
	chatHandler          *ChatHandler
	conversationsHandler *ConversationsHandler
	healthHandler        *HealthHandler
}

// NewServer creates a new web server with the given handlers.
func NewServer(chatHandler *ChatHandler, conversationsHandler *ConversationsHandler, healthInfo HealthInfo) *Server {
	s := &Server{
		mux:                  http.NewServeMux(),
		chatHandler:          chatHandler,
		conversationsHandler: conversationsHandler,
		healthHandler:        NewHealthHandler(healthInfo),
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /chat/message", s.chatHandler.HandleMessage)
	s.mux.HandleFunc("POST /chat/session", s.chatHandler.HandleCreateSession)
	s.mux.HandleFunc("GET /chat/session/{id}", s.chatHandler.HandleGetSession)
	s.mux.HandleFunc("POST /chat/session/{id}/end", s.chatHandler.HandleEndSession)

	s.mux.HandleFunc("GET /conversations", s.conversationsHandler.HandleList)
	s.mux.HandleFunc("GET /conversations/{id}", s.conversationsHandler.HandleDetail)
	s.mux.HandleFunc("GET /conversations/{id}/events", s.conversationsHandler.HandleEvents)

	s.mux.HandleFunc("GET /health", s.healthHandler.ServeHTTP)
}

// Start begins listening on the configured port with graceful shutdown.
// On SIGINT/SIGTERM, it waits up to 10s for in-flight requests to complete
// before closing the listener.
func (s *Server) Start() error {
	port := os.Getenv("WEB_PORT")
	if port == "" {
		port = "8080"
	}

	// Default to localhost to avoid unintentional LAN exposure for a local tool.
	// Override via WEB_HOST env var for container or multi-host deployments.
	host := os.Getenv("WEB_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	addr := host + ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown goroutine
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("⚡ Received signal %v, shutting down gracefully...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Graceful shutdown error: %v", err)
		}
	}()

	log.Printf("🌐 Conversational engine running at http://%s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Println("✅ Server stopped gracefully")
		return nil // Normal shutdown, not an error
	}
	return err
}
