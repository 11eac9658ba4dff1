// Пакет config — загрузка и валидация конфигурации Dispensing Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Dispensing Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8020-8029)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Identity Server ---

	// URL identity server. Пустое значение — сервер не настроен,
	// аутентификация идёт только через локальную БД / Active Directory.
	IDSURL string
	// Имя realm на identity server
	IDSRealm string
	// Client ID для password grant
	IDSClientID string
	// Client Secret для password grant
	IDSClientSecret string
	// Scope, запрашиваемый при выдаче токена
	IDSScope string
	// Таймаут одного запроса к identity server
	IDSTimeout time.Duration
	// Issuer токенов (авто-вычисляется из IDSURL)
	IDSIssuer string
	// URL JWKS endpoint (авто-вычисляется из IDSURL)
	IDSJWKSURL string
	// Claim, в котором identity server передаёт профиль пользователя (JSON)
	IDSProfileClaim string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration
	// Путь к CA-сертификату для TLS-соединений (опционально)
	CACertPath string

	// --- Active Directory ---

	// Порт LDAP-сервера контроллера домена (389 / 636)
	LDAPPort int
	// Использовать LDAPS
	LDAPUseTLS bool
	// Таймаут подключения и bind
	LDAPTimeout time.Duration

	// --- Политики аутентификации ---

	// TTL кэша списка доменов Active Directory
	DomainCacheTTL time.Duration
	// TTL кэша настроек DispensingSystem
	SettingsCacheTTL time.Duration
	// Повторное уведомление об истечении пароля не чаще этого интервала
	PasswordNoticeInterval time.Duration
	// Роли JWT, дающие доступ к управлению учётными записями
	AdminRoles []string
	// Роли JWT с доступом только на чтение
	ReadonlyRoles []string
	// Разрешён ли вход support-пользователей через web-канал
	AllowSupportUserWebAccess bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("DM_PORT: %w", err)
	}
	if cfg.Port < 8020 || cfg.Port > 8029 {
		return nil, fmt.Errorf("DM_PORT: значение %d вне допустимого диапазона 8020-8029", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Identity Server ---

	cfg.IDSURL = strings.TrimRight(getEnvDefault("DM_IDS_URL", ""), "/")
	cfg.IDSRealm = getEnvDefault("DM_IDS_REALM", "dispensing")
	cfg.IDSScope = getEnvDefault("DM_IDS_SCOPE", "openid profile")
	cfg.IDSProfileClaim = getEnvDefault("DM_IDS_PROFILE_CLAIM", "profile")

	if cfg.IDSURL != "" {
		if _, parseErr := url.ParseRequestURI(cfg.IDSURL); parseErr != nil {
			return nil, fmt.Errorf("DM_IDS_URL: некорректный URL %q", cfg.IDSURL)
		}
		// При настроенном identity server credentials клиента обязательны
		if cfg.IDSClientID, err = getEnvRequired("DM_IDS_CLIENT_ID"); err != nil {
			return nil, err
		}
		if cfg.IDSClientSecret, err = getEnvRequired("DM_IDS_CLIENT_SECRET"); err != nil {
			return nil, err
		}
		cfg.IDSIssuer = getEnvDefault("DM_IDS_ISSUER",
			fmt.Sprintf("%s/realms/%s", cfg.IDSURL, cfg.IDSRealm))
		cfg.IDSJWKSURL = getEnvDefault("DM_IDS_JWKS_URL",
			fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.IDSURL, cfg.IDSRealm))
	}

	cfg.IDSTimeout, err = getEnvDuration("DM_IDS_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_IDS_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("DM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("DM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_JWT_LEEWAY: %w", err)
	}
	cfg.CACertPath = getEnvDefault("DM_CA_CERT_PATH", "")

	// --- Active Directory ---

	cfg.LDAPUseTLS, err = getEnvBool("DM_LDAP_USE_TLS", true)
	if err != nil {
		return nil, fmt.Errorf("DM_LDAP_USE_TLS: %w", err)
	}
	defaultLDAPPort := 636
	if !cfg.LDAPUseTLS {
		defaultLDAPPort = 389
	}
	cfg.LDAPPort, err = getEnvInt("DM_LDAP_PORT", defaultLDAPPort)
	if err != nil {
		return nil, fmt.Errorf("DM_LDAP_PORT: %w", err)
	}
	if cfg.LDAPPort < 1 || cfg.LDAPPort > 65535 {
		return nil, fmt.Errorf("DM_LDAP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.LDAPPort)
	}
	cfg.LDAPTimeout, err = getEnvDuration("DM_LDAP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_LDAP_TIMEOUT: %w", err)
	}

	// --- Политики аутентификации ---

	cfg.DomainCacheTTL, err = getEnvDuration("DM_DOMAIN_CACHE_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_DOMAIN_CACHE_TTL: %w", err)
	}
	cfg.SettingsCacheTTL, err = getEnvDuration("DM_SETTINGS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_SETTINGS_CACHE_TTL: %w", err)
	}
	cfg.PasswordNoticeInterval, err = getEnvDuration("DM_PASSWORD_NOTICE_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DM_PASSWORD_NOTICE_INTERVAL: %w", err)
	}
	cfg.AdminRoles = parseCSV(getEnvDefault("DM_ADMIN_ROLES", "dispensing-admin"))
	if len(cfg.AdminRoles) == 0 {
		return nil, fmt.Errorf("DM_ADMIN_ROLES: требуется хотя бы одна роль")
	}
	cfg.ReadonlyRoles = parseCSV(getEnvDefault("DM_READONLY_ROLES", "dispensing-readonly"))
	cfg.AllowSupportUserWebAccess, err = getEnvBool("DM_ALLOW_SUPPORT_USER_WEB_ACCESS", false)
	if err != nil {
		return nil, fmt.Errorf("DM_ALLOW_SUPPORT_USER_WEB_ACCESS: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DM_DEPHEALTH_GROUP", "meddispense")
	cfg.DephealthCheckInterval, err = getEnvDuration("DM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// IDSConfigured сообщает, задан ли адрес identity server.
func (c *Config) IDSConfigured() bool {
	return c.IDSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
