// authentication.go — обработчики /api/v1/authentication endpoints.
// Вход на устройстве выдачи, вход через веб и подтверждение личности.
// Ожидаемые отказы возвращаются 200 с кодом результата в теле.
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/service"
)

// loginRequest — тело запросов аутентификации.
type loginRequest struct {
	UserID    string     `json:"user_id"`
	Password  string     `json:"password"`
	ScanCode  string     `json:"scan_code,omitempty"`
	DeviceKey *uuid.UUID `json:"device_key,omitempty"`
	// Channel — только для verify: device или web
	Channel string `json:"channel,omitempty"`
}

func (req *loginRequest) input() service.LoginInput {
	return service.LoginInput{
		UserID:    req.UserID,
		Password:  req.Password,
		ScanCode:  req.ScanCode,
		DeviceKey: req.DeviceKey,
	}
}

// AuthenticateDevice — POST /api/v1/authentication/device.
func (h *APIHandler) AuthenticateDevice(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.AuthenticateDevice(r.Context(), req.input())
	h.writeResult(w, result, err)
}

// AuthenticateWeb — POST /api/v1/authentication/web.
func (h *APIHandler) AuthenticateWeb(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.AuthenticateWeb(r.Context(), req.input())
	h.writeResult(w, result, err)
}

// VerifyUser — POST /api/v1/authentication/verify.
// Повторное подтверждение личности (свидетель, подпись): уведомление об
// истечении пароля не выдаётся.
func (h *APIHandler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.Verify(r.Context(), req.Channel, req.input())
	h.writeResult(w, result, err)
}

func (h *APIHandler) writeResult(w http.ResponseWriter, result *model.AuthenticationResult, err error) {
	if err != nil {
		h.handleServiceError(w, err, "Ошибка аутентификации")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
