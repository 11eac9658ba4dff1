package idserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// classifyTransportError различает таймаут и прочие сетевые сбои.
func classifyTransportError(err error) model.AuthenticationResultCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ResultRequestTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ResultRequestTimedOut
	}
	return model.ResultNotFound
}

// mapStatus нормализует HTTP-статус и код ошибки OAuth2 в код результата.
func mapStatus(status int, body *errorResponse) model.AuthenticationResultCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return mapOAuthError(body)
	case http.StatusNotFound:
		return model.ResultNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.ResultRequestTimedOut
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		if isDomainError(body.Error) {
			return model.ResultDomainError
		}
		return model.ResultNotFound
	}

	if status >= 500 {
		if isDomainError(body.Error) {
			return model.ResultDomainError
		}
		return model.ResultNotFound
	}
	return model.ResultInternalError
}

// mapOAuthError разбирает ошибку клиентского класса (400/401/403).
func mapOAuthError(body *errorResponse) model.AuthenticationResultCode {
	switch body.Error {
	case errInvalidClient, errUnauthorizedClient:
		return model.ResultClientNotAuthorized
	case errDomainError, errDirectoryUnavailable:
		return model.ResultDomainError
	case errTemporarilyUnavailable:
		return model.ResultNotFound
	case errInvalidGrant, "":
		return mapGrantDescription(body.ErrorDescription)
	}
	return model.ResultInvalidUserIDOrPassword
}

// mapGrantDescription уточняет invalid_grant по тексту error_description.
func mapGrantDescription(description string) model.AuthenticationResultCode {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "no recent access"):
		return model.ResultNoRecentAccessLock
	case strings.Contains(d, "locked"):
		return model.ResultAccountLocked
	case strings.Contains(d, "temporary") && strings.Contains(d, "expired"):
		return model.ResultTemporaryAccountExpired
	case strings.Contains(d, "expired"):
		return model.ResultPasswordExpired
	case strings.Contains(d, "disabled"), strings.Contains(d, "inactive"):
		return model.ResultAccountInactive
	case strings.Contains(d, "not found"):
		return model.ResultUserNotFound
	}
	return model.ResultInvalidUserIDOrPassword
}

func isDomainError(code string) bool {
	return code == errDomainError || code == errDirectoryUnavailable
}
