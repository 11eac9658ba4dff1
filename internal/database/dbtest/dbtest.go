// Пакет dbtest — запуск PostgreSQL в Docker-контейнере для интеграционных тестов.
// Тесты выполняются только при заданной TEST_INTEGRATION.
package dbtest

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/meddispense/dispensing-module/internal/config"
	"github.com/bigkaa/meddispense/dispensing-module/internal/database"
)

// Logger возвращает logger для интеграционных тестов.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// StartPostgres запускает контейнер PostgreSQL и возвращает конфигурацию,
// указывающую на него. Контейнер останавливается в t.Cleanup.
func StartPostgres(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dispensing_test"),
		postgres.WithUsername("dispensing"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DM_DB_HOST", host)
	t.Setenv("DM_DB_PORT", port.Port())
	t.Setenv("DM_DB_NAME", "dispensing_test")
	t.Setenv("DM_DB_USER", "dispensing")
	t.Setenv("DM_DB_PASSWORD", "test-password")
	t.Setenv("DM_DB_SSL_MODE", "disable")
	t.Setenv("DM_IDS_URL", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// MigratedPool запускает PostgreSQL, применяет миграции и возвращает пул.
func MigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := StartPostgres(t)
	logger := Logger()

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}
