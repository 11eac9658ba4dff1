// user_accounts.go — обработчики /api/v1/user-accounts endpoints.
// Создание, поиск и изменение состояния локальных учётных записей.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/meddispense/dispensing-module/internal/api/errors"
	"github.com/bigkaa/meddispense/dispensing-module/internal/api/middleware"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
	"github.com/bigkaa/meddispense/dispensing-module/internal/service"
)

// createUserAccountRequest — тело POST /api/v1/user-accounts.
type createUserAccountRequest struct {
	UserID         string     `json:"user_id"`
	DomainKey      *uuid.UUID `json:"domain_key,omitempty"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Password       string     `json:"password,omitempty"`
	IsSupportUser  bool       `json:"is_support_user"`
	IsTemporary    bool       `json:"is_temporary"`
	IsClinicalUser bool       `json:"is_clinical_user"`
	ScanCode       *string    `json:"scan_code,omitempty"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// ListUserAccounts — GET /api/v1/user-accounts.
// Параметры: limit, offset, search, domain_key, include_inactive.
func (h *APIHandler) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Некорректный limit")
		return
	}
	offsetParam, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, "Некорректный offset")
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)

	filter := repository.UserAccountFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := q.Get("domain_key"); raw != "" {
		key, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			apierrors.ValidationError(w, "Некорректный domain_key: ожидается UUID")
			return
		}
		filter.DomainKey = &key
	}
	if raw := q.Get("include_inactive"); raw != "" {
		inactive, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			apierrors.ValidationError(w, "Некорректный include_inactive")
			return
		}
		filter.IncludeInactive = inactive
	}

	items, total, err := h.accounts.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения списка учётных записей")
		return
	}
	if items == nil {
		items = []*model.AuthUserAccount{}
	}

	writeJSON(w, http.StatusOK, listResponse[*model.AuthUserAccount]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// CreateUserAccount — POST /api/v1/user-accounts.
func (h *APIHandler) CreateUserAccount(w http.ResponseWriter, r *http.Request) {
	var req createUserAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.Create(r.Context(), service.CreateUserAccountInput{
		UserID:         req.UserID,
		DomainKey:      req.DomainKey,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       req.Password,
		IsSupportUser:  req.IsSupportUser,
		IsTemporary:    req.IsTemporary,
		IsClinicalUser: req.IsClinicalUser,
		ScanCode:       req.ScanCode,
	})
	if err != nil {
		h.handleServiceError(w, err, "Ошибка создания учётной записи")
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetUserAccount — GET /api/v1/user-accounts/{key}.
func (h *APIHandler) GetUserAccount(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.Get(r.Context(), key)
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения учётной записи")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// LookupUserAccount — GET /api/v1/user-accounts/lookup?user_id=.
// Принимает user, user@domain и DOMAIN\user.
func (h *APIHandler) LookupUserAccount(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		apierrors.ValidationErrors(w, "Ошибка валидации", []apierrors.FieldDetail{
			{Field: "user_id", Message: "обязательный параметр"},
		})
		return
	}
	account, err := h.accounts.GetByUserID(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err, "Ошибка поиска учётной записи")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// LockUserAccount — POST /api/v1/user-accounts/{key}/lock.
func (h *APIHandler) LockUserAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccountState(w, r, h.accounts.Lock, "Ошибка блокировки учётной записи")
}

// UnlockUserAccount — POST /api/v1/user-accounts/{key}/unlock.
func (h *APIHandler) UnlockUserAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccountState(w, r, h.accounts.Unlock, "Ошибка разблокировки учётной записи")
}

// UndeleteUserAccount — POST /api/v1/user-accounts/{key}/undelete.
func (h *APIHandler) UndeleteUserAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccountState(w, r, h.accounts.Undelete, "Ошибка восстановления учётной записи")
}

// DeactivateUserAccount — POST /api/v1/user-accounts/{key}/deactivate.
func (h *APIHandler) DeactivateUserAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccountState(w, r, h.accounts.Deactivate, "Ошибка деактивации учётной записи")
}

func (h *APIHandler) changeAccountState(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, key uuid.UUID, actor string) (*model.AuthUserAccount, error),
	op string,
) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	account, err := apply(r.Context(), key, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ChangeUserAccountPassword — PUT /api/v1/user-accounts/{key}/password.
func (h *APIHandler) ChangeUserAccountPassword(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), key, req.Password, middleware.ActorFromContext(r.Context())); err != nil {
		h.handleServiceError(w, err, "Ошибка смены пароля")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserAccountEvents — GET /api/v1/user-accounts/{key}/events?limit=.
func (h *APIHandler) ListUserAccountEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Некорректный limit")
		return
	}
	limit, _ := paginationDefaults(limitParam, nil)

	events, err := h.accounts.Events(r.Context(), key, limit)
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения событий учётной записи")
		return
	}
	if events == nil {
		events = []*model.UserAccountEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
