// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Dispensing Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - identity server — HTTP checker к JWKS endpoint; не критичен, так как при
//     его недоступности работает локальная проверка учётных данных
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для identity server
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (DM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PGConnURL — URL PostgreSQL (для лейблов, не для подключения)
	PGConnURL string
	// IDSJWKSURL — JWKS endpoint identity server; пусто — не мониторится
	IDSJWKSURL string
	// InsecureTLS — не проверять сертификат identity server (собственный CA)
	InsecureTLS   bool
	CheckInterval time.Duration
	// Registerer — Prometheus registerer; nil — глобальный
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
//
// Для PostgreSQL используется connection pool mode: проверка выполняется
// через существующий *sql.DB (адаптер pgxpool), что позволяет обнаружить
// исчерпание пула соединений.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// pgcheck.New + AddDependency напрямую, без contrib/sqldb
		// с транзитивной зависимостью на MySQL.
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}

	if cfg.IDSJWKSURL != "" {
		httpOpts := []dephealth.DependencyOption{
			dephealth.FromURL(cfg.IDSJWKSURL),
			dephealth.WithHTTPHealthPath(healthPath(cfg.IDSJWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(false),
		}
		if cfg.InsecureTLS {
			httpOpts = append(httpOpts, dephealth.WithHTTPTLSSkipVerify(true))
		}
		opts = append(opts, dephealth.HTTP("identity-server-jwks", httpOpts...))
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath возвращает path JWKS URL для HTTP-проверки. /health identity
// server обычно доступен только на management-порту, а JWKS подтверждает
// доступность realm.
func healthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
