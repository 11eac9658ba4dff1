package database_test

import (
	"context"
	"testing"

	"github.com/bigkaa/meddispense/dispensing-module/internal/database"
	"github.com/bigkaa/meddispense/dispensing-module/internal/database/dbtest"
)

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := dbtest.StartPostgres(t)
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg, dbtest.Logger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pool.Ping() вернул ошибку: %v", err)
	}
}

// TestMigrate проверяет применение миграций и начальные данные.
func TestMigrate(t *testing.T) {
	cfg := dbtest.StartPostgres(t)
	logger := dbtest.Logger()

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"active_directory_domains",
		"user_accounts",
		"user_account_events",
		"dispensing_system",
		"dispensing_devices",
	}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	var warningDays int
	if err := pool.QueryRow(ctx, `SELECT password_warning_days FROM dispensing_system WHERE id = 1`).Scan(&warningDays); err != nil {
		t.Fatalf("Начальная запись dispensing_system не найдена: %v", err)
	}
	if warningDays != 14 {
		t.Errorf("password_warning_days = %d, ожидали 14", warningDays)
	}
}

// TestReadinessChecker проверяет ReadinessChecker на живой БД.
func TestReadinessChecker(t *testing.T) {
	cfg := dbtest.StartPostgres(t)
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg, dbtest.Logger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	status, msg := database.NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали ok", status, msg)
	}
}
