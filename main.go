package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"campus-chat/internal/config"
	"campus-chat/internal/conversations"
	"campus-chat/internal/db"
	"campus-chat/internal/handlers"
	"campus-chat/internal/logger"
	"campus-chat/internal/middleware"
	"campus-chat/internal/observability"
	"campus-chat/internal/rabbitmq"
	"campus-chat/internal/refresh"
	"campus-chat/internal/repositories"
	"campus-chat/internal/session"
	"campus-chat/internal/telemetry"
	"campus-chat/internal/upload"
	"campus-chat/internal/windows"
	"campus-chat/internal/ws"
)

const serviceName = "campus-chat"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Init("production", "info")
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}

	publisher := rabbitmq.NewPublisher(rabbitmq.Options{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange, AppID: serviceName})
	defer publisher.Close()
	observability.SetPublisher(publisher)
	mode, reason := rabbitmq.Describe(publisher)
	logger.Info().Str("mode", mode).Str("reason", reason).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", serviceName, cfg.Env)

	creds := &session.CredentialStore{}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var history repositories.HistorySource
	var summaries repositories.SummarySource
	if cfg.HistoryDBDSN != "" {
		database, err := db.Connect(cfg.HistoryDBDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to history db")
		}
		defer database.Close()
		repo := repositories.NewMessageRepo(database)
		history, summaries = repo, repo
	} else {
		client := repositories.NewAPIClient(cfg.APIURL, httpClient, creds.Token)
		history, summaries = client, client
	}

	uploader, err := newUploader(ctx, cfg, httpClient, creds)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure uploads")
	}

	hub := ws.NewHub()
	manager := ws.NewManager(cfg.WSURL, nil)
	store := conversations.NewStore(history, summaries, manager, hub, conversations.Options{MatchWindow: cfg.MatchWindow})
	registry := windows.NewRegistry(store)
	poller := refresh.NewPoller(store, registry, cfg.ListPollInterval, cfg.HistoryPollInterval)
	chat := session.New(manager, store, registry, poller, creds, audit)

	watchID := manager.WatchState(func(state ws.State) {
		logger.Info().Str("state", state.String()).Msg("chat transport state changed")
	})
	defer manager.UnwatchState(watchID)

	if err := chat.Start(ctx, session.Credentials{UserID: cfg.UserID, Token: cfg.AuthToken}); err != nil {
		logger.Warn().Err(err).Msg("chat session not started")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	conversationHandler := handlers.NewConversationHandler(store, uploader)
	windowHandler := handlers.NewWindowHandler(registry)
	sessionHandler := handlers.NewSessionHandler(chat)
	viewWS := ws.NewViewSocketHandler(hub, store, store.UserID)

	api := router.Group("")
	api.Use(middleware.BridgeAuth(cfg.BridgeToken))

	api.GET("/conversations", conversationHandler.ListConversations)
	api.GET("/conversations/:peer_id/messages", conversationHandler.GetMessages)
	api.POST("/conversations/:peer_id/messages", conversationHandler.PostMessage)
	api.POST("/conversations/:peer_id/attachments", conversationHandler.PostAttachment)
	api.POST("/conversations/:peer_id/messages/:local_id/retry", conversationHandler.RetryMessage)
	api.POST("/conversations/:peer_id/read", conversationHandler.MarkRead)

	api.GET("/windows", windowHandler.ListWindows)
	api.POST("/windows/:peer_id", windowHandler.OpenWindow)
	api.POST("/windows/:peer_id/focus", windowHandler.FocusWindow)
	api.DELETE("/windows/:peer_id", windowHandler.CloseWindow)

	api.GET("/session", sessionHandler.GetStatus)
	api.POST("/session/login", sessionHandler.Login)
	api.POST("/session/reconnect", sessionHandler.Reconnect)
	api.POST("/session/logout", sessionHandler.Logout)

	api.GET("/ws/conversations", viewWS.HandleList)
	api.GET("/ws/conversations/:peer_id", viewWS.HandleConversation)

	handlers.RegisterDebugRoutes(api, handlers.DebugDeps{Audit: audit, Session: chat, Publisher: publisher}, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("chat bridge starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chat.Teardown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
}

func newUploader(ctx context.Context, cfg *config.Config, client *http.Client, creds *session.CredentialStore) (upload.Uploader, error) {
	if cfg.UploadBackend != "s3" {
		return upload.NewHTTPUploader(cfg.APIURL, client, creds.Token), nil
	}
	r2, err := upload.NewR2Client(ctx, upload.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Bucket:          cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		return nil, err
	}
	return upload.NewS3Uploader(r2, cfg.R2BucketName, cfg.R2PublicURL), nil
}
