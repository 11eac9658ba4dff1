// Точка входа Dispensing Module — подсистема аутентификации пользователей
// шкафов выдачи медикаментов. Загружает конфигурацию, применяет миграции,
// подключается к PostgreSQL, собирает проверку через identity server с
// переходом на локальную БД / Active Directory, запускает topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/meddispense/dispensing-module/internal/api/handlers"
	"github.com/bigkaa/meddispense/dispensing-module/internal/api/middleware"
	"github.com/bigkaa/meddispense/dispensing-module/internal/authn"
	"github.com/bigkaa/meddispense/dispensing-module/internal/cache"
	"github.com/bigkaa/meddispense/dispensing-module/internal/config"
	"github.com/bigkaa/meddispense/dispensing-module/internal/database"
	"github.com/bigkaa/meddispense/dispensing-module/internal/directory"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/idserver"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
	"github.com/bigkaa/meddispense/dispensing-module/internal/server"
	"github.com/bigkaa/meddispense/dispensing-module/internal/service"
)

// Кэши доменов и политик хранят по одной записи.
const (
	domainCacheSize   = 1
	settingsCacheSize = 1
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Dispensing Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if !cfg.IDSConfigured() {
		logger.Warn("DM_IDS_URL не задан: аутентификация только через локальную БД / Active Directory, API управления отключён")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	accountRepo := repository.NewUserAccountRepository(pool)
	eventRepo := repository.NewAccountEventRepository(pool)
	domainRepo := repository.NewADDomainRepository(pool)
	settingsRepo := repository.NewDispensingSystemRepository(pool)
	deviceRepo := repository.NewDeviceRepository(pool)

	// 6. Кэши доменов и политик системы
	domains := authn.NewDomainResolver(domainRepo,
		cache.NewTTL[string, []model.ActiveDirectoryDomain]("ad_domains", domainCacheSize, cfg.DomainCacheTTL))
	settings := authn.NewSettingsProvider(settingsRepo,
		cache.NewTTL[string, *model.DispensingSystem]("dispensing_system", settingsCacheSize, cfg.SettingsCacheTTL))

	// 7. Identity server: HTTP-клиент с CA, JWKS, клиент password grant
	httpClient, err := idserver.HTTPClient(cfg.CACertPath, cfg.IDSTimeout)
	if err != nil {
		logger.Error("Ошибка создания HTTP-клиента identity server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var kf keyfunc.Keyfunc
	var idsChecker handlers.ReadinessChecker
	if cfg.IDSConfigured() {
		kf, err = idserver.NewKeyfunc(cfg.IDSJWKSURL, httpClient, cfg.JWKSRefreshInterval, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWKS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		idsChecker = idserver.NewReadinessChecker(cfg.IDSJWKSURL, httpClient)
	}

	idsClient := idserver.New(idserver.Options{
		BaseURL:      cfg.IDSURL,
		Realm:        cfg.IDSRealm,
		ClientID:     cfg.IDSClientID,
		ClientSecret: cfg.IDSClientSecret,
		Scope:        cfg.IDSScope,
		Issuer:       cfg.IDSIssuer,
		ProfileClaim: cfg.IDSProfileClaim,
		Leeway:       cfg.JWTLeeway,
		Keyfunc:      kf,
		HTTPClient:   httpClient,
	}, logger)

	// 8. Локальная проверка: БД и каталог Active Directory
	binder, err := directory.NewLDAPBinder(directory.Options{
		Port:       cfg.LDAPPort,
		UseTLS:     cfg.LDAPUseTLS,
		Timeout:    cfg.LDAPTimeout,
		CACertPath: cfg.CACertPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания LDAP-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	local := &authn.StrategyAuthenticator{
		Database:  authn.NewDatabaseAuthenticator(nil),
		Directory: authn.NewDirectoryAuthenticator(binder, domains, nil, logger),
	}

	// 9. Менеджер аутентификации и каналы входа
	manager := authn.NewManager(authn.Config{
		IdentityServer:         idsClient,
		Local:                  local,
		Accounts:               accountRepo,
		Activity:               eventRepo,
		Domains:                domains,
		Settings:               settings,
		ClientID:               cfg.IDSClientID,
		ClientSecret:           cfg.IDSClientSecret,
		Scope:                  cfg.IDSScope,
		PasswordNoticeInterval: cfg.PasswordNoticeInterval,
	}, logger)

	// 10. Services
	authSvc := service.NewAuthenticationService(manager,
		authn.DeviceChannel(deviceRepo),
		authn.WebChannel(cfg.AllowSupportUserWebAccess),
	)
	accountSvc := service.NewUserAccountService(accountRepo, eventRepo, domainRepo, settings, domains, logger)
	systemSvc := service.NewSystemService(settingsRepo, domainRepo, deviceRepo, settings, domains, logger)

	// 11. Readiness checkers и API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), idsChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, authSvc, accountSvc, systemSvc, logger)

	// 12. JWT middleware API управления
	var jwtAuth *middleware.JWTAuth
	if kf != nil {
		jwtAuth = middleware.NewJWTAuth(kf, cfg.IDSIssuer, cfg.JWTLeeway, cfg.AdminRoles, cfg.ReadonlyRoles, logger)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.IDSJWKSURL),
			slog.String("issuer", cfg.IDSIssuer),
		)
	}

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + identity server)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "dispensing-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		IDSJWKSURL:    cfg.IDSJWKSURL,
		InsecureTLS:   cfg.CACertPath != "",
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Dispensing Module остановлен")
}
