package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/promptrelay/internal/api"
	"github.com/wuwenbin0122/promptrelay/internal/db"
	"github.com/wuwenbin0122/promptrelay/internal/relay"
	"github.com/wuwenbin0122/promptrelay/internal/utils"
)

type auditSink interface {
	relay.AuditStore
	Close(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	store, err := newAuditSink(cfg.Audit, sugar)
	if err != nil {
		sugar.Fatalf("audit store: %v", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			sugar.Warnf("audit store: close error: %v", err)
		}
	}()

	credentials := relay.NewCredentialRelay(cfg.Upstream, sugar)
	prompts := relay.NewPromptRelay(cfg.Upstream, store, cfg.Audit.WriteTimeout, sugar)

	router := setupRouter(api.NewHandler(credentials, prompts, cfg.MaxBodyBytes, sugar), logger)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: withCORS(router, cfg.AllowedOrigins),
		// Prompt turns wait on the upstream call and the audit write.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Upstream.Timeout + cfg.Audit.WriteTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server listening", "addr", server.Addr, "audit_backend", cfg.Audit.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func newAuditSink(cfg utils.AuditConfig, logger *zap.SugaredLogger) (auditSink, error) {
	if cfg.Backend == utils.BackendPostgres {
		return db.NewPostgres(cfg.Postgres, logger), nil
	}
	mongoStore, err := db.NewMongo(cfg.Mongo, logger)
	if err != nil {
		return nil, err
	}
	return mongoStore, nil
}

func setupRouter(handler *api.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestID(), api.RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)

	return router
}

func withCORS(next http.Handler, origins []string) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", api.RequestIDHeader},
		ExposedHeaders: []string{api.RequestIDHeader},
		MaxAge:         300,
	})(next)
}
