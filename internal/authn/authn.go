// Пакет authn — аутентификация пользователей Dispensing Module.
//
// Manager сначала обращается к identity server; при сбоях связности или
// конфигурации (NotFound, IdentityServerUrlNotConfigured, DomainError,
// RequestTimedOut) и известной локальной учётной записи выполняет локальную
// проверку: bind в Active Directory для доменных учётных записей, bcrypt-хэш
// из БД для остальных. Особенности каналов входа (шкаф выдачи, веб)
// подключаются через Channel.
package authn

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// IdentityServer — удалённая проверка учётных данных.
type IdentityServer interface {
	Authenticate(ctx context.Context, creds *model.TokenCredentials) (*model.AuthenticationResult, error)
}

// AccountStore — учётные записи, используемые при аутентификации.
// Реализуется repository.UserAccountRepository.
type AccountStore interface {
	GetByUserID(ctx context.Context, userID string, domainKey *uuid.UUID) (*model.AuthUserAccount, error)
	GetByScanCode(ctx context.Context, scanCode string) (*model.AuthUserAccount, error)
	SetLocked(ctx context.Context, key uuid.UUID, locked bool, reason string) error
	RecordAuthentication(ctx context.Context, key uuid.UUID, at time.Time) error
	RecordPasswordNotice(ctx context.Context, key uuid.UUID, at time.Time) error
}

// ActivityStore — журнал событий учётных записей.
// Реализуется repository.AccountEventRepository.
type ActivityStore interface {
	Activity(ctx context.Context, accountKey uuid.UUID) (*model.AccountActivity, error)
}

// DeviceStore — устройства выдачи. Реализуется repository.DeviceRepository.
type DeviceStore interface {
	GetByKey(ctx context.Context, key uuid.UUID) (*model.DispensingDevice, error)
}

// Request — входные данные одной попытки входа.
type Request struct {
	// UserID — имя пользователя, возможно в форме DOMAIN\user или user@domain
	UserID   string
	Password string
	// ScanCode — код бейджа; заменяет UserID при входе сканированием
	ScanCode string
	// DeviceKey — устройство, с которого выполняется вход
	DeviceKey *uuid.UUID
}

// Mode — режим попытки.
type Mode int

const (
	// ModeAuthenticate — вход в систему.
	ModeAuthenticate Mode = iota
	// ModeVerify — подтверждение личности (свидетель, повторная проверка):
	// уведомление об истечении пароля не показывается.
	ModeVerify
)

func (m Mode) String() string {
	if m == ModeVerify {
		return "verify"
	}
	return "authenticate"
}

// Attempt — состояние попытки, доступное хукам канала.
type Attempt struct {
	Mode        Mode
	Request     *Request
	Credentials *model.TokenCredentials
	// Account — локальная учётная запись; nil, если не найдена
	Account *model.AuthUserAccount
	// Domain — домен, разрешённый из квалификатора user id
	Domain *model.ActiveDirectoryDomain
	// Device — устройство, загруженное хуком канала
	Device *model.DispensingDevice
}

// userKey возвращает user id для логов и метрик.
func (a *Attempt) userKey() string {
	if a.Credentials != nil && a.Credentials.UserID != "" {
		return a.Credentials.QualifiedUserID()
	}
	if a.Request.ScanCode != "" {
		return "scan:***"
	}
	return a.Request.UserID
}
