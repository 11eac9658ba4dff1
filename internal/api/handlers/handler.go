// Пакет handlers — HTTP-обработчики Dispensing Module.
// handler.go — основной обработчик API: объединяет доменные обработчики
// и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/meddispense/dispensing-module/internal/api/errors"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
	"github.com/bigkaa/meddispense/dispensing-module/internal/service"
)

// AuthenticationAPI — операции аутентификации (service.AuthenticationService).
type AuthenticationAPI interface {
	AuthenticateDevice(ctx context.Context, in service.LoginInput) (*model.AuthenticationResult, error)
	AuthenticateWeb(ctx context.Context, in service.LoginInput) (*model.AuthenticationResult, error)
	Verify(ctx context.Context, channel string, in service.LoginInput) (*model.AuthenticationResult, error)
}

// UserAccountAPI — управление учётными записями (service.UserAccountService).
type UserAccountAPI interface {
	Create(ctx context.Context, in service.CreateUserAccountInput) (*model.AuthUserAccount, error)
	Get(ctx context.Context, key uuid.UUID) (*model.AuthUserAccount, error)
	GetByUserID(ctx context.Context, userID string) (*model.AuthUserAccount, error)
	List(ctx context.Context, filter repository.UserAccountFilter) ([]*model.AuthUserAccount, int, error)
	Lock(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error)
	Unlock(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error)
	Undelete(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error)
	Deactivate(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error)
	ChangePassword(ctx context.Context, key uuid.UUID, password, actor string) error
	Events(ctx context.Context, key uuid.UUID, limit int) ([]*model.UserAccountEvent, error)
}

// SystemAPI — политики, домены и устройства (service.SystemService).
type SystemAPI interface {
	GetSettings(ctx context.Context) (*model.DispensingSystem, error)
	UpdateSettings(ctx context.Context, in *model.DispensingSystem, actor string) (*model.DispensingSystem, error)
	ListDomains(ctx context.Context) ([]model.ActiveDirectoryDomain, error)
	CreateDomain(ctx context.Context, d *model.ActiveDirectoryDomain, actor string) (*model.ActiveDirectoryDomain, error)
	ListDevices(ctx context.Context) ([]*model.DispensingDevice, error)
	CreateDevice(ctx context.Context, d *model.DispensingDevice, actor string) (*model.DispensingDevice, error)
	SetDeviceOutOfService(ctx context.Context, key uuid.UUID, outOfService bool, reason, actor string) (*model.DispensingDevice, error)
}

// APIHandler — основной обработчик API Dispensing Module.
type APIHandler struct {
	health   *HealthHandler
	auth     AuthenticationAPI
	accounts UserAccountAPI
	system   SystemAPI
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	auth AuthenticationAPI,
	accounts UserAccountAPI,
	system SystemAPI,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		auth:     auth,
		accounts: accounts,
		system:   system,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// listResponse — страница списка.
type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// pathKey извлекает UUID из параметра маршрута {key}.
func pathKey(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	key, err := uuid.Parse(chi.URLParam(r, "key"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор: ожидается UUID")
		return uuid.Nil, false
	}
	return key, true
}

// queryInt разбирает целочисленный query-параметр; nil — параметр не задан.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// handleServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, err error, op string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]apierrors.FieldDetail, len(verr.Errors))
		for i, fe := range verr.Errors {
			details[i] = apierrors.FieldDetail{Field: fe.Field, Message: fe.Message}
		}
		apierrors.ValidationErrors(w, "Ошибка валидации", details)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	default:
		h.logger.Error(op, slog.String("error", err.Error()))
		apierrors.InternalError(w, op)
	}
}
