package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/appforge/internal/infra/database"
	"github.com/totegamma/appforge/internal/infra/repository"
	"github.com/totegamma/appforge/internal/present/rest"
	"github.com/totegamma/appforge/internal/present/rest/middleware"
	"github.com/totegamma/appforge/internal/service"
	"github.com/totegamma/appforge/internal/usecase"
)

const serviceName = "appforge"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if conf.NodeInfo.Version == "" {
			conf.NodeInfo.Version = version
		}

		if conf.Server.EnableTrace {
			shutdown, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint, serviceName, conf.NodeInfo.Version)
			if err != nil {
				return errors.Wrap(err, "failed to setup tracing")
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn().Err(err).Msg("trace provider shutdown failed")
				}
			}()
		}

		db, err := database.NewPostgres(conf.Server.PostgresDsn)
		if err != nil {
			return errors.Wrap(err, "failed to connect database")
		}
		if conf.Server.AutoMigrate {
			err = database.MigratePostgres(db)
			if err != nil {
				return errors.Wrap(err, "failed to migrate database")
			}
		}

		mc := database.NewMemcached(conf.Server.MemcachedAddr)
		repo := repository.NewCachedApplicationRepository(
			repository.NewApplicationRepository(db),
			mc,
			conf.Cache.LocalTTL,
			conf.Cache.SharedTTL,
		)

		var signalService *service.SignalService
		var publisher usecase.SignalPublisher
		if conf.Server.RedisAddr != "" {
			rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
			defer rdb.Close()
			signalService = service.NewSignalService(rdb)
			publisher = signalService
		} else {
			log.Warn().Msg("redis is not configured; change events and /realtime are disabled")
		}

		applicationUC := usecase.NewApplicationUsecase(repo, publisher)
		handler := rest.NewHandler(conf.NodeInfo, applicationUC, signalService)

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		if conf.Server.EnableTrace {
			e.Use(otelecho.Middleware(serviceName))
		}
		e.Use(middleware.AccessLog)
		e.Use(middleware.RequestID)
		e.Use(echomiddleware.Recover())
		e.Use(echomiddleware.CORS())
		handler.RegisterRoutes(e)

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("listen", conf.Server.Listen).Msg("appforge started")
			if err := e.Start(conf.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return errors.Wrap(err, "server stopped")
			}
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
