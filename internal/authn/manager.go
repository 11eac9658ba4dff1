package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

// Config — зависимости Manager.
type Config struct {
	IdentityServer IdentityServer
	Local          LocalAuthenticator
	Accounts       AccountStore
	Activity       ActivityStore
	Domains        *DomainResolver
	Settings       *SettingsProvider
	// ClientID, ClientSecret, Scope — параметры password grant
	ClientID     string
	ClientSecret string
	Scope        string
	// PasswordNoticeInterval — не повторять уведомление об истечении пароля
	// чаще этого интервала
	PasswordNoticeInterval time.Duration
	// Now — источник времени; nil — time.Now
	Now func() time.Time
}

// Manager — политика аутентификации: identity server с переходом на
// локальную проверку, блокировка по неактивности, уведомление об истечении
// пароля, разрешение доменных user id.
type Manager struct {
	ids            IdentityServer
	local          LocalAuthenticator
	accounts       AccountStore
	activity       ActivityStore
	domains        *DomainResolver
	settings       *SettingsProvider
	clientID       string
	clientSecret   string
	scope          string
	noticeInterval time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewManager создаёт Manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notice := cfg.PasswordNoticeInterval
	if notice <= 0 {
		notice = day
	}
	return &Manager{
		ids:            cfg.IdentityServer,
		local:          cfg.Local,
		accounts:       cfg.Accounts,
		activity:       cfg.Activity,
		domains:        cfg.Domains,
		settings:       cfg.Settings,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		scope:          cfg.Scope,
		noticeInterval: notice,
		now:            now,
		logger:         logger.With(slog.String("component", "authentication_manager")),
	}
}

// AuthenticateUser проверяет учётные данные: сначала identity server, затем,
// при сбое связности или конфигурации identity server и известной локальной
// учётной записи, локальная проверка. Прочие результаты identity server
// возвращаются как есть. Успешный результат всегда содержит учётную запись
// и число дней до истечения пароля.
func (m *Manager) AuthenticateUser(ctx context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials) (*model.AuthenticationResult, error) {
	result, err := m.ids.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	if result.ResultCode.AllowsLocalFallback() && account != nil {
		result, err = m.fallback(ctx, account, creds, result)
		if err != nil {
			return nil, err
		}
	}

	if !result.Succeeded() {
		return result, nil
	}

	// Локальная запись — источник состояния учётной записи (блокировки,
	// сроки пароля); профиль identity server — только для неизвестных локально.
	if account != nil {
		result.UserAccount = account
	}
	if result.UserAccount == nil {
		m.logger.Error("Успешная аутентификация без учётной записи",
			slog.String("user_id", creds.QualifiedUserID()),
			slog.String("authenticated_by", result.AuthenticatedBy),
		)
		return model.Failure(model.ResultInternalError, "успешная аутентификация без учётной записи"), nil
	}

	// Заблокированная или неактивная учётная запись не проходит проверку
	// независимо от ответа identity server.
	now := m.now()
	if res := checkAccountState(result.UserAccount, now); res != nil {
		return res, nil
	}

	settings, err := m.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	result.PasswordExpirationDaysRemaining = PasswordExpirationDaysRemaining(
		result.UserAccount, now, m.noticeInterval, settings.PasswordWarningDays)

	return result, nil
}

// fallback выполняет локальную проверку, если политика разрешает работу
// без identity server.
func (m *Manager) fallback(ctx context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials,
	idsResult *model.AuthenticationResult) (*model.AuthenticationResult, error) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.AllowDisconnectedAuthentication {
		m.logger.Warn("Локальная проверка запрещена политикой системы",
			slog.String("user_id", creds.QualifiedUserID()),
			slog.String("ids_result_code", string(idsResult.ResultCode)),
		)
		return idsResult, nil
	}

	result := m.local.Authenticate(ctx, account, creds)
	fallbacksTotal.WithLabelValues(string(idsResult.ResultCode), string(result.ResultCode)).Inc()

	m.logger.Info("Локальная проверка учётных данных",
		slog.String("user_id", creds.QualifiedUserID()),
		slog.String("ids_result_code", string(idsResult.ResultCode)),
		slog.String("result_code", string(result.ResultCode)),
		slog.String("authenticated_by", result.AuthenticatedBy),
	)
	return result, nil
}

// Authenticate выполняет вход по каналу ch.
func (m *Manager) Authenticate(ctx context.Context, ch Channel, req *Request) (*model.AuthenticationResult, error) {
	return m.run(ctx, ch, ModeAuthenticate, req)
}

// VerifyUser подтверждает личность пользователя по каналу ch. В отличие от
// Authenticate не показывает и не фиксирует уведомление об истечении пароля.
func (m *Manager) VerifyUser(ctx context.Context, ch Channel, req *Request) (*model.AuthenticationResult, error) {
	return m.run(ctx, ch, ModeVerify, req)
}

func (m *Manager) run(ctx context.Context, ch Channel, mode Mode, req *Request) (*model.AuthenticationResult, error) {
	attempt := &Attempt{Mode: mode, Request: req}

	result, err := m.pipeline(ctx, ch, attempt)
	if err != nil {
		m.logger.Error("Ошибка аутентификации",
			slog.String("channel", ch.Name),
			slog.String("mode", mode.String()),
			slog.String("user_id", attempt.userKey()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	attemptsTotal.WithLabelValues(ch.Name, mode.String(), string(result.ResultCode)).Inc()
	attrs := []any{
		slog.String("channel", ch.Name),
		slog.String("mode", mode.String()),
		slog.String("user_id", attempt.userKey()),
		slog.String("result_code", string(result.ResultCode)),
	}
	if attempt.Credentials != nil && attempt.Credentials.Domain != "" {
		attrs = append(attrs, slog.String("domain", attempt.Credentials.Domain))
	}
	if result.Succeeded() {
		attrs = append(attrs, slog.String("authenticated_by", result.AuthenticatedBy))
		m.logger.Info("Аутентификация успешна", attrs...)
	} else {
		attrs = append(attrs, slog.String("reason", result.FailureReason))
		m.logger.Warn("Аутентификация отклонена", attrs...)
	}
	return result, nil
}

func (m *Manager) pipeline(ctx context.Context, ch Channel, attempt *Attempt) (*model.AuthenticationResult, error) {
	req := attempt.Request
	creds := &model.TokenCredentials{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		GrantType:    model.GrantTypePassword,
		Scope:        m.scope,
		UserID:       req.UserID,
		Password:     req.Password,
		ScanCode:     req.ScanCode,
	}
	attempt.Credentials = creds

	// Учётная запись: по коду бейджа или по user id с доменом.
	if req.ScanCode != "" {
		if !ch.AllowScanCode {
			return model.Failure(model.ResultInvalidScanCode, "вход по коду бейджа недоступен"), nil
		}
		account, err := m.accounts.GetByScanCode(ctx, req.ScanCode)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.Failure(model.ResultInvalidScanCode, "код бейджа не найден"), nil
			}
			return nil, fmt.Errorf("поиск учётной записи по коду бейджа: %w", err)
		}
		attempt.Account = account
		creds.UserID = account.UserID
		if account.DomainName != "" {
			creds.UserID = account.UserID + "@" + account.DomainName
		}
	}

	domain, ok, err := m.domains.Resolve(ctx, creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.Failure(model.ResultInvalidUserIDOrPassword, "неверный user id или пароль"), nil
	}
	attempt.Domain = domain

	if attempt.Account == nil {
		var domainKey *uuid.UUID
		if domain != nil {
			domainKey = &domain.Key
		}
		account, err := m.accounts.GetByUserID(ctx, creds.UserID, domainKey)
		switch {
		case err == nil:
			attempt.Account = account
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("поиск учётной записи: %w", err)
		}
	}

	// Блокировка по неактивности применяется к любой попытке,
	// в том числе отклонённой проверками канала.
	if account := attempt.Account; account != nil {
		res, err := m.LockNoAuthenticationUserAccount(ctx, account)
		if err != nil || res != nil {
			return res, err
		}
	}

	for _, hook := range ch.Before {
		res, err := hook(ctx, attempt)
		if err != nil || res != nil {
			return res, err
		}
	}

	if account := attempt.Account; account != nil {
		if res := checkAccountState(account, m.now()); res != nil {
			return res, nil
		}
	}

	result, err := m.AuthenticateUser(ctx, attempt.Account, creds)
	if err != nil || !result.Succeeded() {
		return result, err
	}

	for _, hook := range ch.After {
		if res := hook(ctx, attempt, result); res != nil {
			return res, nil
		}
	}

	m.recordSuccess(ctx, attempt, result)
	return result, nil
}

// recordSuccess фиксирует вход и показ уведомления об истечении пароля.
// Ошибки записи не отменяют успешный вход.
func (m *Manager) recordSuccess(ctx context.Context, attempt *Attempt, result *model.AuthenticationResult) {
	if attempt.Mode == ModeVerify {
		result.PasswordExpirationDaysRemaining = model.NoPasswordExpirationNotice
	}
	if attempt.Account == nil {
		// Учётная запись известна только identity server.
		return
	}

	account := result.UserAccount
	now := m.now()

	if err := m.accounts.RecordAuthentication(ctx, account.Key, now); err != nil {
		m.logger.Warn("Не удалось зафиксировать вход",
			slog.String("account_key", account.Key.String()),
			slog.String("error", err.Error()),
		)
	}

	if result.PasswordExpirationDaysRemaining == model.NoPasswordExpirationNotice {
		return
	}
	if err := m.accounts.RecordPasswordNotice(ctx, account.Key, now); err != nil {
		m.logger.Warn("Не удалось зафиксировать уведомление об истечении пароля",
			slog.String("account_key", account.Key.String()),
			slog.String("error", err.Error()),
		)
	}
}
