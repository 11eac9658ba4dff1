package model

import (
	"time"

	"github.com/google/uuid"
)

// Типы каталогов.
const (
	DirectoryTypeActiveDirectory = "active_directory"
	DirectoryTypeLDAP            = "ldap"
)

// ActiveDirectoryDomain — настройка домена каталога.
// Список доменов кэшируется на 2 минуты.
type ActiveDirectoryDomain struct {
	Key                uuid.UUID `json:"key"`
	Name               string    `json:"name"`
	FullyQualifiedName string    `json:"fully_qualified_name"`
	DirectoryType      string    `json:"directory_type"`
	// ServerAddress — адрес контроллера домена; пустой — используется FQDN
	ServerAddress   string    `json:"server_address,omitempty"`
	IsActive        bool      `json:"is_active"`
	IsSupportDomain bool      `json:"is_support_domain"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Host возвращает адрес сервера каталога.
func (d *ActiveDirectoryDomain) Host() string {
	if d.ServerAddress != "" {
		return d.ServerAddress
	}
	return d.FullyQualifiedName
}

// DispensingSystem — глобальные политики системы. Кэшируются на 5 минут.
type DispensingSystem struct {
	// LockAfterNoAuthenticationDays — блокировать учётную запись после N дней
	// без успешной аутентификации; nil — политика отключена
	LockAfterNoAuthenticationDays *int `json:"lock_after_no_authentication_days,omitempty"`
	// AllowDisconnectedAuthentication — разрешена локальная проверка при
	// недоступном identity server
	AllowDisconnectedAuthentication bool `json:"allow_disconnected_authentication"`
	// PasswordExpirationDays — срок действия пароля локальной учётной записи
	PasswordExpirationDays *int `json:"password_expiration_days,omitempty"`
	// PasswordWarningDays — за сколько дней предупреждать об истечении пароля
	PasswordWarningDays  int       `json:"password_warning_days"`
	TemporaryAccountDays int       `json:"temporary_account_days"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// LockAfter возвращает порог неактивности, либо 0 если политика отключена.
func (s *DispensingSystem) LockAfter() time.Duration {
	if s == nil || s.LockAfterNoAuthenticationDays == nil || *s.LockAfterNoAuthenticationDays <= 0 {
		return 0
	}
	return time.Duration(*s.LockAfterNoAuthenticationDays) * 24 * time.Hour
}

// DispensingDevice — шкаф выдачи, через который выполняется вход.
type DispensingDevice struct {
	Key                 uuid.UUID `json:"key"`
	Name                string    `json:"name"`
	IsOutOfService      bool      `json:"is_out_of_service"`
	OutOfServiceReason  string    `json:"out_of_service_reason,omitempty"`
	RequireClinicalUser bool      `json:"require_clinical_user"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
