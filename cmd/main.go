package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"avatar-control-service/internal/agent"
	grpcapi "avatar-control-service/internal/api/grpc"
	"avatar-control-service/internal/app"
	"avatar-control-service/internal/avatar"
	"avatar-control-service/internal/avatar/mock"
	"avatar-control-service/internal/config"
	"avatar-control-service/internal/events"
	httpapi "avatar-control-service/internal/http"
	"avatar-control-service/internal/observability"
	"avatar-control-service/internal/observability/logging"
	"avatar-control-service/internal/observability/metrics"
	"avatar-control-service/internal/relay"
	"avatar-control-service/internal/service/chunker"
	"avatar-control-service/internal/service/session"
	"avatar-control-service/internal/service/transcript"
	transcriptmock "avatar-control-service/internal/service/transcript/mock"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)

	bus, err := newBus(cfg.Relay)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relay bus")
	}
	defer bus.Close()
	application.Bus = bus

	// Kafka publisher with separate topics for speak chunks and finished turns
	publisher := events.New(&events.Config{
		Enabled:    cfg.Kafka.Enabled,
		Brokers:    cfg.Kafka.Brokers,
		TopicSpeak: cfg.Kafka.TopicSpeak,
		TopicTurn:  cfg.Kafka.TopicTurn,
		Principal:  cfg.Kafka.Principal,
	})
	defer publisher.Close()

	registryCfg := session.RegistryConfig{
		Chunker: chunker.Config{
			ChunkSize:           cfg.Chunker.ChunkSize,
			FirstChunkSize:      cfg.Chunker.FirstChunkSize,
			Regression:          chunker.ParseRegressionPolicy(cfg.Chunker.RegressionPolicy),
			RegressionTolerance: cfg.Chunker.RegressionTolerance,
			RestartFloor:        chunker.DefaultConfig().RestartFloor,
		},
		RelayChannel: cfg.Relay.ChannelName,
		ReadyTimeout: cfg.Relay.ReadyTimeout,
	}
	if cfg.Avatar.Mode == "mock" {
		registryCfg.NewBinding = func(channelID string) avatar.Binding {
			return mock.NewConnected(logging.WithChannel("avatar-mock", channelID))
		}
	}
	application.Sessions = session.NewRegistry(registryCfg, bus, publisher)

	client := agent.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	application.Graphs = client
	application.Agents = agent.NewPool(client, cfg.Backend.PingInterval)
	if path := cfg.Backend.GreetingScripts; path != "" {
		greetings, err := agent.LoadGreetings(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Greeting scripts not loaded")
		} else {
			application.Greetings = greetings
		}
	}
	application.Simulator = func() transcript.Source {
		return transcriptmock.New(cfg.Avatar.SimulationDelay)
	}

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	metricsServer := observability.NewServer(cfg.Observability.MetricsAddr, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return application.Ready(ctx)
	})
	metricsServer.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Register application services
	grpcapi.Register(server, application.Sessions, application.Validator, grpcapi.DefaultLimits())

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("Avatar control gRPC server started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Avatar control HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	server.GracefulStop()
	application.Shutdown()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown incomplete")
	}
}

func newBus(cfg config.RelayConfig) (relay.Bus, error) {
	switch cfg.Transport {
	case "memory", "":
		log.Info().Msg("Relay bus: in-process")
		return relay.NewMemoryBus(), nil
	case "redis":
		b := relay.NewRedisBus(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisPrefix, logging.WithComponent("relay-redis"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Relay bus: redis")
		return b, nil
	default:
		return nil, errors.New("unknown relay transport " + cfg.Transport)
	}
}
