// Пакет service — бизнес-логика Dispensing Module.
// user_accounts.go — управление учётными записями пользователей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/meddispense/dispensing-module/internal/authn"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

const (
	maxUserIDLength   = 50
	minPasswordLength = 8
	defaultEventLimit = 100
)

// SettingsGetter — текущие политики системы (authn.SettingsProvider).
type SettingsGetter interface {
	Get(ctx context.Context) (*model.DispensingSystem, error)
}

// UserIDResolver — разрешение доменного user id (authn.DomainResolver).
type UserIDResolver interface {
	Resolve(ctx context.Context, creds *model.TokenCredentials) (*model.ActiveDirectoryDomain, bool, error)
}

// CreateUserAccountInput — данные новой учётной записи.
type CreateUserAccountInput struct {
	UserID    string
	DomainKey *uuid.UUID
	FirstName string
	LastName  string
	// Password — только для учётных записей БД; доменные проверяются каталогом
	Password       string
	IsSupportUser  bool
	IsTemporary    bool
	IsClinicalUser bool
	ScanCode       *string
}

// UserAccountService — сервис управления учётными записями.
type UserAccountService struct {
	accounts repository.UserAccountRepository
	events   repository.AccountEventRepository
	domains  repository.ADDomainRepository
	settings SettingsGetter
	resolver UserIDResolver
	now      func() time.Time
	logger   *slog.Logger
}

// NewUserAccountService создаёт сервис учётных записей.
func NewUserAccountService(
	accounts repository.UserAccountRepository,
	events repository.AccountEventRepository,
	domains repository.ADDomainRepository,
	settings SettingsGetter,
	resolver UserIDResolver,
	logger *slog.Logger,
) *UserAccountService {
	return &UserAccountService{
		accounts: accounts,
		events:   events,
		domains:  domains,
		settings: settings,
		resolver: resolver,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "user_account_service")),
	}
}

// Create валидирует и создаёт учётную запись. Временная учётная запись
// получает срок действия по политике системы, пароль БД — срок действия
// по политике истечения паролей.
func (s *UserAccountService) Create(ctx context.Context, in CreateUserAccountInput) (*model.AuthUserAccount, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	verr := &ValidationError{}
	switch {
	case in.UserID == "":
		verr.Add("user_id", "обязательное поле")
	case len([]rune(in.UserID)) > maxUserIDLength:
		verr.Add("user_id", fmt.Sprintf("не более %d символов", maxUserIDLength))
	case strings.ContainsAny(in.UserID, `\@`):
		verr.Add("user_id", `не должен содержать символы \ и @`)
	}
	if in.FirstName == "" {
		verr.Add("first_name", "обязательное поле")
	}
	if in.LastName == "" {
		verr.Add("last_name", "обязательное поле")
	}
	if in.DomainKey == nil && len(in.Password) < minPasswordLength {
		verr.Add("password", fmt.Sprintf("не менее %d символов", minPasswordLength))
	}
	if in.ScanCode != nil && strings.TrimSpace(*in.ScanCode) == "" {
		in.ScanCode = nil
	}

	var domain *model.ActiveDirectoryDomain
	if in.DomainKey != nil {
		d, err := s.domains.GetByKey(ctx, *in.DomainKey)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			verr.Add("domain_key", "домен не найден")
		case err != nil:
			return nil, fmt.Errorf("получение домена: %w", err)
		default:
			domain = d
		}
	}

	// Дубликат user id в пределах домена — ошибка поля user_id.
	if in.UserID != "" && len(verr.Errors) == 0 {
		_, err := s.accounts.GetByUserID(ctx, in.UserID, in.DomainKey)
		switch {
		case err == nil:
			verr.Add("user_id", "учётная запись с таким user id уже существует")
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("проверка уникальности user id: %w", err)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	account := &model.AuthUserAccount{
		UserID:         in.UserID,
		DomainKey:      in.DomainKey,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		IsActive:       true,
		IsSupportUser:  in.IsSupportUser,
		IsTemporary:    in.IsTemporary,
		IsClinicalUser: in.IsClinicalUser,
		ScanCode:       in.ScanCode,
	}
	if domain != nil {
		account.DomainName = domain.Name
	}
	if in.IsTemporary && settings.TemporaryAccountDays > 0 {
		exp := now.AddDate(0, 0, settings.TemporaryAccountDays)
		account.TemporaryExpiration = &exp
	}
	if in.DomainKey == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("хэширование пароля: %w", err)
		}
		account.PasswordHash = string(hash)
		account.LastPasswordChange = &now
		account.PasswordExpiration = authn.PasswordExpiration(now, settings.PasswordExpirationDays)
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Гонка с параллельным созданием или совпадение кода бейджа.
			return nil, fieldError("user_id", "учётная запись с таким user id или кодом бейджа уже существует")
		}
		return nil, fmt.Errorf("создание учётной записи: %w", err)
	}

	s.logger.Info("Учётная запись создана",
		slog.String("account_key", account.Key.String()),
		slog.String("user_id", account.QualifiedUserID()),
	)
	return account, nil
}

// Get возвращает учётную запись по ключу.
func (s *UserAccountService) Get(ctx context.Context, key uuid.UUID) (*model.AuthUserAccount, error) {
	account, err := s.accounts.GetByKey(ctx, key)
	if err != nil {
		return nil, notFoundOr(err, "получение учётной записи")
	}
	return account, nil
}

// GetByUserID возвращает учётную запись по user id в любой форме
// (user, DOMAIN\user, user@domain).
func (s *UserAccountService) GetByUserID(ctx context.Context, userID string) (*model.AuthUserAccount, error) {
	creds := &model.TokenCredentials{UserID: userID}
	domain, ok, err := s.resolver.Resolve(ctx, creds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var domainKey *uuid.UUID
	if domain != nil {
		domainKey = &domain.Key
	}
	account, err := s.accounts.GetByUserID(ctx, creds.UserID, domainKey)
	if err != nil {
		return nil, notFoundOr(err, "получение учётной записи")
	}
	return account, nil
}

// List возвращает страницу учётных записей и общее количество.
func (s *UserAccountService) List(ctx context.Context, filter repository.UserAccountFilter) ([]*model.AuthUserAccount, int, error) {
	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка учётных записей: %w", err)
	}
	total, err := s.accounts.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт учётных записей: %w", err)
	}
	return accounts, total, nil
}

// Lock блокирует учётную запись по решению администратора.
func (s *UserAccountService) Lock(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error) {
	return s.changeState(ctx, key, actor, "Учётная запись заблокирована", func() error {
		return s.accounts.SetLocked(ctx, key, true, model.LockReasonAdministrator)
	})
}

// Unlock снимает блокировку. Разблокировка сбрасывает отсчёт неактивности.
func (s *UserAccountService) Unlock(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error) {
	return s.changeState(ctx, key, actor, "Учётная запись разблокирована", func() error {
		return s.accounts.SetLocked(ctx, key, false, model.LockReasonAdministrator)
	})
}

// Undelete восстанавливает деактивированную учётную запись и снимает блокировку.
func (s *UserAccountService) Undelete(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error) {
	return s.changeState(ctx, key, actor, "Учётная запись восстановлена", func() error {
		return s.accounts.SetActive(ctx, key, true)
	})
}

// Deactivate деактивирует учётную запись.
func (s *UserAccountService) Deactivate(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error) {
	return s.changeState(ctx, key, actor, "Учётная запись деактивирована", func() error {
		return s.accounts.SetActive(ctx, key, false)
	})
}

func (s *UserAccountService) changeState(ctx context.Context, key uuid.UUID, actor, msg string, apply func() error) (*model.AuthUserAccount, error) {
	if err := apply(); err != nil && !errors.Is(err, repository.ErrUnchanged) {
		return nil, notFoundOr(err, "изменение состояния учётной записи")
	}
	account, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.logger.Info(msg,
		slog.String("account_key", key.String()),
		slog.String("user_id", account.QualifiedUserID()),
		slog.String("actor", actor),
	)
	return account, nil
}

// ChangePassword задаёт новый пароль учётной записи БД и пересчитывает срок
// его действия. Пароли доменных учётных записей управляются каталогом.
func (s *UserAccountService) ChangePassword(ctx context.Context, key uuid.UUID, password, actor string) error {
	account, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if account.IsDomainAccount() {
		return fieldError("password", "пароль доменной учётной записи меняется в каталоге")
	}
	if len(password) < minPasswordLength {
		return fieldError("password", fmt.Sprintf("не менее %d символов", minPasswordLength))
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("хэширование пароля: %w", err)
	}
	now := s.now()
	if err := s.accounts.SetPassword(ctx, key, string(hash), now, authn.PasswordExpiration(now, settings.PasswordExpirationDays)); err != nil {
		return notFoundOr(err, "смена пароля")
	}

	s.logger.Info("Пароль учётной записи изменён",
		slog.String("account_key", key.String()),
		slog.String("user_id", account.QualifiedUserID()),
		slog.String("actor", actor),
	)
	return nil
}

// Events возвращает журнал событий учётной записи.
func (s *UserAccountService) Events(ctx context.Context, key uuid.UUID, limit int) ([]*model.UserAccountEvent, error) {
	if _, err := s.Get(ctx, key); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	events, err := s.events.ListByAccount(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("получение журнала событий: %w", err)
	}
	return events, nil
}
