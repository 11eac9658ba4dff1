// Пакет server — HTTP-сервер Dispensing Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/meddispense/dispensing-module/internal/api/handlers"
	"github.com/bigkaa/meddispense/dispensing-module/internal/api/middleware"
	"github.com/bigkaa/meddispense/dispensing-module/internal/config"
)

// Server — HTTP-сервер Dispensing Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware API управления; nil — identity server не
// настроен и API управления не публикуется.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, h, jwtAuth),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты Dispensing Module.
// Health, metrics и аутентификация публичны: это и есть вход в систему.
// API управления требует JWT identity server: readonly для GET, admin для изменений.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/authentication", func(r chi.Router) {
			r.Post("/device", h.AuthenticateDevice)
			r.Post("/web", h.AuthenticateWeb)
			r.Post("/verify", h.VerifyUser)
		})

		if jwtAuth == nil {
			logger.Warn("JWT не настроен: API управления отключён")
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware())
			r.Use(middleware.RequireRoleByMethod())

			r.Route("/user-accounts", func(r chi.Router) {
				r.Get("/", h.ListUserAccounts)
				r.Post("/", h.CreateUserAccount)
				r.Get("/lookup", h.LookupUserAccount)
				r.Route("/{key}", func(r chi.Router) {
					r.Get("/", h.GetUserAccount)
					r.Post("/lock", h.LockUserAccount)
					r.Post("/unlock", h.UnlockUserAccount)
					r.Post("/undelete", h.UndeleteUserAccount)
					r.Post("/deactivate", h.DeactivateUserAccount)
					r.Put("/password", h.ChangeUserAccountPassword)
					r.Get("/events", h.ListUserAccountEvents)
				})
			})

			r.Get("/ad-domains", h.ListADDomains)
			r.Post("/ad-domains", h.CreateADDomain)

			r.Get("/dispensing-system", h.GetDispensingSystem)
			r.Put("/dispensing-system", h.UpdateDispensingSystem)

			r.Get("/devices", h.ListDevices)
			r.Post("/devices", h.CreateDevice)
			r.Post("/devices/{key}/out-of-service", h.SetDeviceOutOfService)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
