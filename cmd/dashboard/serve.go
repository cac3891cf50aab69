package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/totegamma/ortto-dashboard/client"
	"github.com/totegamma/ortto-dashboard/internal/config"
	"github.com/totegamma/ortto-dashboard/internal/infra/database"
	"github.com/totegamma/ortto-dashboard/internal/infra/gateway"
	"github.com/totegamma/ortto-dashboard/internal/infra/repository"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/present/rest"
	restmiddleware "github.com/totegamma/ortto-dashboard/internal/present/rest/middleware"
	"github.com/totegamma/ortto-dashboard/internal/service"
	"github.com/totegamma/ortto-dashboard/internal/usecase"
)

const serviceName = "ortto-dashboard"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		if err := conf.RequireUpstream(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, conf)
	},
}

func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

type stores struct {
	reports usecase.ReportRepository
	limits  usecase.RateLimitRepository
}

func openStores(conf config.Server) (stores, error) {
	if conf.PostgresDsn == "" {
		logging.Warn().Str("module", "main").Msg("no postgresDsn configured, caching reports in memory")
		return stores{
			reports: repository.NewMemoryReportRepository(),
			limits:  repository.NewMemoryRateLimitRepository(),
		}, nil
	}

	db, err := database.NewPostgres(conf.PostgresDsn)
	if err != nil {
		return stores{}, err
	}
	if err := database.MigratePostgres(db); err != nil {
		return stores{}, err
	}
	return stores{
		reports: repository.NewReportRepository(db),
		limits:  repository.NewRateLimitRepository(db),
	}, nil
}

func serve(ctx context.Context, conf config.Config) error {
	log := logging.Module("main")

	if conf.Server.EnableTrace {
		shutdown, err := setupTracing(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	st, err := openStores(conf.Server)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if conf.Server.RedisAddr != "" {
		rdb = database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
		if err := database.PingRedis(ctx, rdb); err != nil {
			return err
		}
		defer rdb.Close()
	}

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	orttoClient := client.New(conf.Ortto)
	defer orttoClient.Close()

	signalService := service.NewSignalService(rdb)
	authService, err := service.NewAuthService(conf.Auth)
	if err != nil {
		return err
	}
	if !authService.Enabled() {
		log.Warn().Msg("no identity provider configured, every request is the default user")
	}

	upstream := gateway.NewOrttoGateway(orttoClient, mc, conf.Ortto.BaseURL+"|"+conf.Ortto.APIKey)
	cacheStore := usecase.NewCacheStore(st.reports, conf.Cache)
	ledger := usecase.NewLedger(st.limits, conf.Cache)
	refiller := usecase.NewRefiller(upstream, cacheStore, ledger, signalService, conf.Refill)
	dashboard := usecase.NewDashboardUsecase(cacheStore, ledger, refiller, upstream, conf.Refill)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := logging.Info()
			if v.Error != nil {
				event = logging.Error().Err(v.Error)
			}
			event.Str("module", "http").
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if len(conf.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: conf.Server.CORSOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	handler := rest.NewHandler(dashboard, cacheStore, ledger, refiller, signalService, restmiddleware.NewAuthMiddleware(authService))
	handler.RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", conf.Server.Listen).Msg("server starting")
		if err := e.Start(conf.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := refiller.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("refill workers did not stop in time")
	}
	return nil
}
