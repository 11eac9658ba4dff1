package idserver

// tokenResponse — успешный ответ token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// errorResponse — тело ошибки OAuth2 (RFC 6749, раздел 5.2).
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Коды ошибок OAuth2 и расширения identity server.
const (
	errInvalidGrant           = "invalid_grant"
	errInvalidClient          = "invalid_client"
	errUnauthorizedClient     = "unauthorized_client"
	errDomainError            = "domain_error"
	errDirectoryUnavailable   = "directory_unavailable"
	errTemporarilyUnavailable = "temporarily_unavailable"
)
