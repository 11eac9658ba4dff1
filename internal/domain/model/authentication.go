package model

import "math"

// AuthenticationResultCode — закрытый перечень исходов аутентификации.
// Ожидаемые отказы (неверный пароль, блокировка, недоступный домен)
// передаются кодом, а не ошибкой.
type AuthenticationResultCode string

const (
	ResultSuccessful              AuthenticationResultCode = "successful"
	ResultInvalidUserIDOrPassword AuthenticationResultCode = "invalid_user_id_or_password"
	ResultUserNotFound            AuthenticationResultCode = "user_not_found"
	ResultAccountLocked           AuthenticationResultCode = "account_locked"
	ResultNoRecentAccessLock      AuthenticationResultCode = "no_recent_access_lock"
	ResultAccountInactive         AuthenticationResultCode = "account_inactive"
	ResultPasswordExpired         AuthenticationResultCode = "password_expired"
	ResultTemporaryAccountExpired AuthenticationResultCode = "temporary_account_expired"

	// Коды недоступности identity server — допускают переход на локальную проверку.
	ResultNotFound                       AuthenticationResultCode = "not_found"
	ResultIdentityServerURLNotConfigured AuthenticationResultCode = "identity_server_url_not_configured"
	ResultDomainError                    AuthenticationResultCode = "domain_error"
	ResultRequestTimedOut                AuthenticationResultCode = "request_timed_out"

	ResultClientNotAuthorized       AuthenticationResultCode = "client_not_authorized"
	ResultDeviceOutOfService        AuthenticationResultCode = "device_out_of_service"
	ResultSupportUserNotAllowed     AuthenticationResultCode = "support_user_not_allowed"
	ResultNonClinicalUserNotAllowed AuthenticationResultCode = "non_clinical_user_not_allowed"
	ResultInvalidScanCode           AuthenticationResultCode = "invalid_scan_code"
	ResultInternalError             AuthenticationResultCode = "internal_error"
)

// AllowsLocalFallback сообщает, относится ли код к сбоям связности или
// конфигурации identity server, после которых допустима локальная проверка.
func (c AuthenticationResultCode) AllowsLocalFallback() bool {
	switch c {
	case ResultNotFound, ResultIdentityServerURLNotConfigured, ResultDomainError, ResultRequestTimedOut:
		return true
	}
	return false
}

// Источник, подтвердивший учётные данные.
const (
	AuthenticatedByIdentityServer = "identity_server"
	AuthenticatedByDatabase       = "database"
	AuthenticatedByDirectory      = "directory"
)

// NoPasswordExpirationNotice — значение счётчика дней, означающее
// «уведомление об истечении пароля не показывать».
const NoPasswordExpirationNotice = math.MaxInt32

// TokenCredentials — учётные данные одного запроса токена.
// Создаются на один вызов аутентификации и не сохраняются.
type TokenCredentials struct {
	ClientID     string
	ClientSecret string
	GrantType    string
	UserID       string
	Password     string
	Scope        string
	// Domain — короткое имя домена, установленное при разборе user id
	Domain string
	// ScanCode — код бейджа (вход сканированием на устройстве)
	ScanCode string
}

// GrantTypePassword — Resource Owner Password Credentials grant.
const GrantTypePassword = "password"

// QualifiedUserID возвращает user@domain, если домен определён.
func (c *TokenCredentials) QualifiedUserID() string {
	if c.Domain == "" {
		return c.UserID
	}
	return c.UserID + "@" + c.Domain
}

// AuthenticationResult — исход одной попытки аутентификации или проверки.
// Не изменяется после возврата вызывающему коду.
type AuthenticationResult struct {
	ResultCode    AuthenticationResultCode `json:"result_code"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	UserAccount   *AuthUserAccount         `json:"user_account,omitempty"`
	ErrorMessage  string                   `json:"error_message,omitempty"`
	// PasswordExpirationDaysRemaining — NoPasswordExpirationNotice, если
	// уведомление не требуется
	PasswordExpirationDaysRemaining int    `json:"password_expiration_days_remaining"`
	AuthenticatedBy                 string `json:"authenticated_by,omitempty"`
	// AccessToken — токен identity server (только при успехе через IDS)
	AccessToken string `json:"-"`
}

// Succeeded сообщает об успешной аутентификации.
func (r *AuthenticationResult) Succeeded() bool {
	return r != nil && r.ResultCode == ResultSuccessful
}

// Success создаёт успешный результат.
func Success(account *AuthUserAccount, by string) *AuthenticationResult {
	return &AuthenticationResult{
		ResultCode:                      ResultSuccessful,
		UserAccount:                     account,
		AuthenticatedBy:                 by,
		PasswordExpirationDaysRemaining: NoPasswordExpirationNotice,
	}
}

// Failure создаёт результат отказа.
func Failure(code AuthenticationResultCode, reason string) *AuthenticationResult {
	return &AuthenticationResult{
		ResultCode:                      code,
		FailureReason:                   reason,
		PasswordExpirationDaysRemaining: NoPasswordExpirationNotice,
	}
}
