// Command ledgerd serves the ledger HTTP API, the gRPC health service and prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/bank-ledger/internal/api"
	"github.com/example/bank-ledger/internal/app"
	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/config"
	"github.com/example/bank-ledger/internal/events"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/logging"
	"github.com/example/bank-ledger/internal/monitor"
	"github.com/example/bank-ledger/internal/security"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledgerd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ledger.NewMetrics(reg)

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
	}

	publisher, publisherCloser, err := app.Publisher(cfg.Events, rdb, logger)
	if err != nil {
		return err
	}
	defer publisherCloser.Close()

	chain, chainCloser, err := app.OpenAuditChain(cfg.Audit.LogFile)
	if err != nil {
		return err
	}
	defer chainCloser.Close()

	locks := app.LockRegistry(cfg.Ledger, metrics)
	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics),
		ledger.WithLockRegistry(locks),
		ledger.WithRetryPolicy(app.RetryPolicy(cfg.Ledger)),
		ledger.WithObserver(events.NewAuditRecorder(chain)),
	}
	if publisher != nil {
		opts = append(opts, ledger.WithObserver(publisher))
	}
	engine := ledger.NewEngine(store, opts...)
	books := ledger.NewValidator(store,
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics),
		ledger.WithLockRegistry(locks))

	if err := app.Prepare(ctx, cfg, store, engine, logger); err != nil {
		return err
	}

	deps := api.Dependencies{
		Logger:       logger,
		Ledger:       engine,
		Books:        books,
		Auditor:      chain,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Auth.PublicKeyFile != "" {
		if deps.JWTValidator, err = auth.LoadJWTValidator(cfg.Auth.PublicKeyFile, cfg.Auth.Issuer); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_PUBLIC_KEY_FILE not set; every /v1 request will be rejected")
	}
	if rdb != nil {
		deps.RateLimiter = &security.RedisTokenBucket{
			Redis:      rdb,
			Prefix:     "ledger_api",
			Capacity:   cfg.Redis.RateLimitCapacity,
			RefillRate: cfg.Redis.RateLimitPerSecond,
		}
	}
	if deps.AdminAllowlist, err = security.ParseAllowlist(cfg.Server.AdminAllowlist); err != nil {
		return fmt.Errorf("ADMIN_IP_ALLOWLIST: %w", err)
	}

	router, err := api.NewRouter(deps)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", router)

	tlsCfg, err := serverTLS(cfg.Server)
	if err != nil {
		return err
	}

	healthSrv := health.NewServer()
	var grpcOpts []grpc.ServerOption
	if tlsCfg != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	grpcSrv := grpc.NewServer(grpcOpts...)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	mon := monitor.New(books,
		monitor.WithHealth(healthSrv),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithRegisterer(reg))

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCHealthAddr))
		return grpcSrv.Serve(ln)
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr), zap.Bool("tls", tlsCfg != nil))
		var err error
		if tlsCfg != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
