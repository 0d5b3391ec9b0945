package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	"github.com/weiawesome/wes-io-live/call-service/internal/handler"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/call-service/internal/repository"
	"github.com/weiawesome/wes-io-live/call-service/internal/room"
	"github.com/weiawesome/wes-io-live/call-service/internal/service"
	"github.com/weiawesome/wes-io-live/call-service/internal/sweeper"
	"github.com/weiawesome/wes-io-live/call-service/pkg/database"
	"github.com/weiawesome/wes-io-live/call-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/call-service/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting call-service")

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	defer database.Close(db)

	conversationRepo := repository.NewGormConversationRepository(db)
	if err := conversationRepo.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	// Initialize token verification
	tokens, err := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize jwt (set JWT_SECRET)")
	}

	// Initialize hub
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run(ctx)

	// Initialize notification delivery. Without a shared bus, notifications
	// go straight to this instance's connections.
	var (
		notifier   service.Notifier
		subscriber pubsub.Subscriber
	)
	if cfg.PubSub.Driver == "" || cfg.PubSub.Driver == pubsub.DriverLocal {
		notifier = service.NewHubNotifier(wsHub)
	} else {
		ps, err := pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub")
		}
		defer ps.Close()
		notifier = service.NewPubSubNotifier(ps)
		subscriber = ps
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("connected to pubsub")
	}

	// Initialize Kafka producer for activity events
	var kafkaProducer kafka.ActivityProducer
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, activity events disabled")
		} else {
			kafkaProducer = producer
			defer kafkaProducer.Close()
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
		}
	}

	// Initialize services
	registry := room.NewRegistry()
	chatSvc := service.NewChatService(conversationRepo, notifier, kafkaProducer, cfg.Relay.PersistTimeout)
	signalSvc := service.NewSignalService(wsHub, registry, chatSvc, tokens, notifier, subscriber, kafkaProducer, cfg.Auth)

	if err := signalSvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start signal service")
	}
	defer signalSvc.Stop()

	roomSweeper := sweeper.New(registry, cfg.Room)
	roomSweeper.Start(ctx)

	// Setup REST API
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), pkglog.GinMiddleware(logger))
	handler.NewHandler(chatSvc, middleware.NewAuthMiddleware(tokens)).RegisterRoutes(engine)
	handler.NewICEHandler(cfg.WebRTC.ICEServers).RegisterRoutes(engine)

	// Setup HTTP server
	mux := http.NewServeMux()
	handler.NewWSHandler(wsHub, signalSvc, tokens).RegisterRoutes(mux)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	httpLogged := pkglog.HTTPMiddleware(logger)
	root := http.NewServeMux()
	root.Handle("/ws", httpLogged(mux))
	root.Handle("/health", httpLogged(mux))
	root.Handle("/", engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("call-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down call-service")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}

		roomSweeper.Stop()
		<-roomSweeper.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("call-service exited with error")
	}

	logger.Info().Msg("call-service stopped")
}
