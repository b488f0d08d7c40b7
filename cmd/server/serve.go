package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/chainsyncstore/chainsync-notify/internal/audit"
	"github.com/chainsyncstore/chainsync-notify/internal/auth"
	"github.com/chainsyncstore/chainsync-notify/internal/config"
	"github.com/chainsyncstore/chainsync-notify/internal/db"
	"github.com/chainsyncstore/chainsync-notify/internal/httputil"
	"github.com/chainsyncstore/chainsync-notify/internal/log"
	mw "github.com/chainsyncstore/chainsync-notify/internal/middleware"
	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
	"github.com/chainsyncstore/chainsync-notify/internal/realtime"
	"github.com/chainsyncstore/chainsync-notify/internal/reputation"
)

// healthService is the gRPC health service name reported alongside "".
const healthService = "chainsync.notify.Realtime"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, config.Load())
		},
	}
}

// jwtVerifier adapts the JWT service to the realtime auth handshake.
func jwtVerifier(j *auth.JWTService) realtime.VerifierFunc {
	return func(_ context.Context, token string) (realtime.Identity, error) {
		claims, err := j.ValidateToken(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{SubjectID: claims.UserID, TenantID: claims.TenantID}, nil
	}
}

func realtimeConfig(cfg *config.Config) realtime.Config {
	return realtime.Config{
		Path:              cfg.RealtimePath,
		Enabled:           cfg.RealtimeEnabled,
		HeartbeatInterval: cfg.RealtimeHeartbeatInterval,
		CapacityInterval:  cfg.RealtimeCapacityInterval,
		MaxConnections:    cfg.RealtimeMaxConnections,
		MaxFrameSize:      cfg.RealtimeMaxFrameBytes,
		InboundRate:       cfg.RealtimeInboundRate,
		InboundBurst:      cfg.RealtimeInboundBurst,
		AllowedOrigins:    cfg.AllowedOrigins,
		TrustedProxies:    cfg.TrustedProxies,
	}
}

type routerDeps struct {
	jwt         *auth.JWTService
	realtime    *realtime.Service
	inbox       notifications.Inbox
	audit       audit.Lister
	gatherer    prometheus.Gatherer
	proxies     *httputil.TrustedProxies
	stopLimiter <-chan struct{}
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()

	// 100 req/s per IP with burst of 200
	r.Use(mw.RateLimitMiddleware(100, 200, d.proxies, d.stopLimiter))

	r.HandleFunc("/healthz", healthzHandler(d.realtime)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// WebSocket: auth happens in-band with the first frame.
	r.Handle(d.realtime.Path(), d.realtime)

	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(d.jwt))
	notifications.NewHandlers(d.inbox).RegisterRoutes(protected)

	admin := protected.PathPrefix("").Subrouter()
	admin.Use(mw.RequireRole(auth.RoleAdmin))
	realtime.NewHandlers(d.realtime).RegisterRoutes(admin)
	if d.audit != nil {
		audit.NewHandlers(d.audit).RegisterRoutes(admin)
	}
	return r
}

func healthzHandler(svc *realtime.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svc.Stats()
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"connections": st.TotalConnections,
		})
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("server")

	// Storage: Postgres when reachable, in-memory otherwise.
	var (
		store    notifications.Store
		inbox    notifications.Inbox
		recorder realtime.ConnectionRecorder
		lister   audit.Lister
	)
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("database connection failed, using in-memory notification store")
		mem := notifications.NewMemoryStore(0)
		store, inbox = mem, mem
	} else {
		defer database.Close()
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Warn().Err(err).Msg("migrations failed")
		}
		pg := notifications.NewPostgresStore(database.Pool)
		connections := audit.NewConnectionStore(database.Pool)
		store, inbox = pg, pg
		recorder, lister = connections, connections
	}

	guard, err := reputation.New(reputation.Config{
		Denylist:     cfg.ReputationDenylist,
		ConnectRate:  cfg.ReputationConnectRate,
		ConnectBurst: cfg.ReputationConnectBurst,
	})
	if err != nil {
		return err
	}
	defer guard.Stop()

	proxies, err := httputil.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	svc, err := realtime.New(realtimeConfig(cfg), realtime.Dependencies{
		Store:      store,
		Verifier:   jwtVerifier(jwtService),
		Reputation: guard,
		Recorder:   recorder,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	// Ingest: producers in other processes publish through the broker.
	broker, err := notifications.NewBroker(cfg)
	if err != nil {
		_ = svc.Shutdown(context.Background())
		return fmt.Errorf("notification broker: %w", err)
	}
	consumer := notifications.NewConsumer(broker, func(ctx context.Context, ev notifications.Event) error {
		_, err := svc.Publish(ctx, ev)
		return err
	})
	if err := consumer.Start(); err != nil {
		logger.Warn().Err(err).Msg("notification consumer failed to start")
	}

	stopLimiter := make(chan struct{})
	defer close(stopLimiter)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(routerDeps{
			jwt:         jwtService,
			realtime:    svc,
			inbox:       inbox,
			audit:       lister,
			gatherer:    prometheus.DefaultGatherer,
			proxies:     proxies,
			stopLimiter: stopLimiter,
		}),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	grpcServer, healthSrv, err := startGRPCServer(cfg.GRPCPort)
	if err != nil {
		_ = broker.Close()
		_ = svc.Shutdown(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("ws_path", svc.Path()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server failed")
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := broker.Close(); err != nil {
		logger.Error().Err(err).Msg("broker close")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("realtime shutdown")
	}
	grpcServer.GracefulStop()

	logger.Info().Msg("server stopped")
	return serveErr
}

func startGRPCServer(port string) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on gRPC port %s: %w", port, err)
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	logger := log.WithComponent("server")
	go func() {
		logger.Info().Str("port", port).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server failed")
		}
	}()
	return grpcServer, healthSrv, nil
}
