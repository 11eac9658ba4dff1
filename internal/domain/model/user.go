// Пакет model — доменные модели Dispensing Module.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthUserAccount — снимок учётной записи пользователя, участвующий
// в одной попытке аутентификации. Формируется из БД или из profile claim
// identity server и не изменяется в ходе попытки.
type AuthUserAccount struct {
	// Key — первичный ключ учётной записи
	Key uuid.UUID `json:"key"`
	// UserID — имя пользователя без доменного квалификатора
	UserID string `json:"user_id"`
	// DomainKey — домен Active Directory; nil для локальных учётных записей
	DomainKey *uuid.UUID `json:"domain_key,omitempty"`
	// DomainName — короткое имя домена (заполняется при чтении)
	DomainName string `json:"domain_name,omitempty"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`

	IsActive      bool `json:"is_active"`
	IsLocked      bool `json:"is_locked"`
	IsSupportUser bool `json:"is_support_user"`
	IsTemporary   bool `json:"is_temporary"`
	// TemporaryExpiration — окончание срока действия временной учётной записи
	TemporaryExpiration *time.Time `json:"temporary_expiration,omitempty"`
	IsClinicalUser      bool       `json:"is_clinical_user"`
	// ScanCode — код бейджа для входа сканированием
	ScanCode *string `json:"scan_code,omitempty"`

	// PasswordHash — bcrypt-хэш; пустой для доменных учётных записей
	PasswordHash string `json:"-"`

	LastPasswordChange *time.Time `json:"last_password_change,omitempty"`
	PasswordExpiration *time.Time `json:"password_expiration,omitempty"`
	LastPasswordNotice *time.Time `json:"last_password_notice,omitempty"`
	LastSuccessfulAuth *time.Time `json:"last_successful_auth,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsDomainAccount сообщает, привязана ли учётная запись к домену Active Directory.
func (a *AuthUserAccount) IsDomainAccount() bool {
	return a.DomainKey != nil
}

// TemporaryExpired сообщает, истёк ли срок временной учётной записи на момент now.
func (a *AuthUserAccount) TemporaryExpired(now time.Time) bool {
	return a.IsTemporary && a.TemporaryExpiration != nil && !now.Before(*a.TemporaryExpiration)
}

// QualifiedUserID возвращает user@domain для доменных учётных записей.
func (a *AuthUserAccount) QualifiedUserID() string {
	if a.DomainName == "" {
		return a.UserID
	}
	return a.UserID + "@" + strings.ToLower(a.DomainName)
}

// DisplayName возвращает «Фамилия, Имя».
func (a *AuthUserAccount) DisplayName() string {
	switch {
	case a.LastName == "":
		return a.FirstName
	case a.FirstName == "":
		return a.LastName
	default:
		return a.LastName + ", " + a.FirstName
	}
}

// UserAccountEventType — тип события жизненного цикла учётной записи.
type UserAccountEventType string

const (
	EventAuthenticated   UserAccountEventType = "authenticated"
	EventLocked          UserAccountEventType = "locked"
	EventUnlocked        UserAccountEventType = "unlocked"
	EventUndeleted       UserAccountEventType = "undeleted"
	EventDeactivated     UserAccountEventType = "deactivated"
	EventPasswordChanged UserAccountEventType = "password_changed"
)

// Причины блокировки учётной записи.
const (
	LockReasonNoRecentAccess = "no_recent_access"
	LockReasonAdministrator  = "administrator"
)

// UserAccountEvent — запись в журнале событий учётной записи.
type UserAccountEvent struct {
	Key            uuid.UUID            `json:"key"`
	UserAccountKey uuid.UUID            `json:"user_account_key"`
	EventType      UserAccountEventType `json:"event_type"`
	Reason         string               `json:"reason,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// AccountActivity — последние значимые события учётной записи,
// используемые политикой блокировки по неактивности.
type AccountActivity struct {
	LastAuthenticated *time.Time
	LastUnlocked      *time.Time
	LastUndeleted     *time.Time
}
