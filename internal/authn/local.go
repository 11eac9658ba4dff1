package authn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/meddispense/dispensing-module/internal/directory"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// LocalAuthenticator — проверка учётных данных без identity server.
type LocalAuthenticator interface {
	Authenticate(ctx context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials) *model.AuthenticationResult
}

// checkAccountState отклоняет заблокированные, неактивные и истёкшие
// временные учётные записи. nil — проверка пройдена.
func checkAccountState(account *model.AuthUserAccount, now time.Time) *model.AuthenticationResult {
	switch {
	case account.IsLocked:
		return model.Failure(model.ResultAccountLocked, "учётная запись заблокирована")
	case !account.IsActive:
		return model.Failure(model.ResultAccountInactive, "учётная запись деактивирована")
	case account.TemporaryExpired(now):
		return model.Failure(model.ResultTemporaryAccountExpired, "срок действия временной учётной записи истёк")
	}
	return nil
}

// DatabaseAuthenticator — проверка пароля по bcrypt-хэшу из БД.
type DatabaseAuthenticator struct {
	now func() time.Time
}

// NewDatabaseAuthenticator создаёт проверку по хэшу пароля.
func NewDatabaseAuthenticator(now func() time.Time) *DatabaseAuthenticator {
	if now == nil {
		now = time.Now
	}
	return &DatabaseAuthenticator{now: now}
}

// Authenticate сравнивает пароль с хэшем учётной записи.
func (a *DatabaseAuthenticator) Authenticate(_ context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials) *model.AuthenticationResult {
	now := a.now()
	if res := checkAccountState(account, now); res != nil {
		return res
	}
	if account.PasswordHash == "" || creds.Password == "" {
		return model.Failure(model.ResultInvalidUserIDOrPassword, "неверный user id или пароль")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)); err != nil {
		return model.Failure(model.ResultInvalidUserIDOrPassword, "неверный user id или пароль")
	}
	if account.PasswordExpiration != nil && !now.Before(*account.PasswordExpiration) {
		return model.Failure(model.ResultPasswordExpired, "срок действия пароля истёк")
	}
	return model.Success(account, model.AuthenticatedByDatabase)
}

// DomainLookup — поиск домена учётной записи.
type DomainLookup interface {
	ByKey(ctx context.Context, key uuid.UUID) (*model.ActiveDirectoryDomain, bool, error)
}

// DirectoryAuthenticator — проверка пароля bind'ом в домене Active Directory.
type DirectoryAuthenticator struct {
	binder  directory.Binder
	domains DomainLookup
	now     func() time.Time
	logger  *slog.Logger
}

// NewDirectoryAuthenticator создаёт проверку через каталог.
func NewDirectoryAuthenticator(binder directory.Binder, domains DomainLookup, now func() time.Time, logger *slog.Logger) *DirectoryAuthenticator {
	if now == nil {
		now = time.Now
	}
	return &DirectoryAuthenticator{
		binder:  binder,
		domains: domains,
		now:     now,
		logger:  logger.With(slog.String("component", "directory_authenticator")),
	}
}

// Authenticate выполняет bind от имени пользователя в домене учётной записи.
func (a *DirectoryAuthenticator) Authenticate(ctx context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials) *model.AuthenticationResult {
	if res := checkAccountState(account, a.now()); res != nil {
		return res
	}
	if account.DomainKey == nil {
		return model.Failure(model.ResultDomainError, "учётная запись не привязана к домену")
	}

	domain, ok, err := a.domains.ByKey(ctx, *account.DomainKey)
	if err != nil {
		a.logger.Error("Ошибка получения домена учётной записи",
			slog.String("user_id", account.UserID),
			slog.String("error", err.Error()),
		)
		return model.Failure(model.ResultDomainError, "домен учётной записи недоступен")
	}
	if !ok || !domain.IsActive {
		return model.Failure(model.ResultDomainError, "домен учётной записи не настроен или неактивен")
	}

	err = a.binder.Bind(ctx, domain, account.UserID, creds.Password)
	switch {
	case err == nil:
		return model.Success(account, model.AuthenticatedByDirectory)
	case errors.Is(err, directory.ErrInvalidCredentials):
		return model.Failure(model.ResultInvalidUserIDOrPassword, "неверный user id или пароль")
	case errors.Is(err, directory.ErrTimeout):
		return model.Failure(model.ResultRequestTimedOut, err.Error())
	default:
		a.logger.Warn("Сервер каталога недоступен",
			slog.String("domain", domain.Name),
			slog.String("error", err.Error()),
		)
		return model.Failure(model.ResultDomainError, err.Error())
	}
}

// StrategyAuthenticator выбирает способ локальной проверки по типу учётной
// записи: каталог для доменных, БД для остальных.
type StrategyAuthenticator struct {
	Database  LocalAuthenticator
	Directory LocalAuthenticator
}

// Authenticate делегирует проверку выбранной стратегии.
func (s *StrategyAuthenticator) Authenticate(ctx context.Context, account *model.AuthUserAccount, creds *model.TokenCredentials) *model.AuthenticationResult {
	if account.IsDomainAccount() {
		if s.Directory == nil {
			return model.Failure(model.ResultDomainError, "проверка в каталоге не настроена")
		}
		return s.Directory.Authenticate(ctx, account, creds)
	}
	return s.Database.Authenticate(ctx, account, creds)
}
