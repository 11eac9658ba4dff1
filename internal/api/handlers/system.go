// system.go — обработчики политик системы, доменов каталога и устройств выдачи.
package handlers

import (
	"net/http"

	"github.com/bigkaa/meddispense/dispensing-module/internal/api/middleware"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// settingsRequest — тело PUT /api/v1/dispensing-system.
type settingsRequest struct {
	LockAfterNoAuthenticationDays   *int `json:"lock_after_no_authentication_days"`
	AllowDisconnectedAuthentication bool `json:"allow_disconnected_authentication"`
	PasswordExpirationDays          *int `json:"password_expiration_days"`
	PasswordWarningDays             int  `json:"password_warning_days"`
	TemporaryAccountDays            int  `json:"temporary_account_days"`
}

type domainRequest struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fully_qualified_name"`
	DirectoryType      string `json:"directory_type,omitempty"`
	ServerAddress      string `json:"server_address,omitempty"`
	IsActive           *bool  `json:"is_active,omitempty"`
	IsSupportDomain    bool   `json:"is_support_domain"`
}

type deviceRequest struct {
	Name                string `json:"name"`
	RequireClinicalUser bool   `json:"require_clinical_user"`
}

type outOfServiceRequest struct {
	OutOfService bool   `json:"out_of_service"`
	Reason       string `json:"reason,omitempty"`
}

// GetDispensingSystem — GET /api/v1/dispensing-system.
func (h *APIHandler) GetDispensingSystem(w http.ResponseWriter, r *http.Request) {
	settings, err := h.system.GetSettings(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения настроек системы")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateDispensingSystem — PUT /api/v1/dispensing-system.
// Сбрасывает кэш настроек.
func (h *APIHandler) UpdateDispensingSystem(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.system.UpdateSettings(r.Context(), &model.DispensingSystem{
		LockAfterNoAuthenticationDays:   req.LockAfterNoAuthenticationDays,
		AllowDisconnectedAuthentication: req.AllowDisconnectedAuthentication,
		PasswordExpirationDays:          req.PasswordExpirationDays,
		PasswordWarningDays:             req.PasswordWarningDays,
		TemporaryAccountDays:            req.TemporaryAccountDays,
	}, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err, "Ошибка обновления настроек системы")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ListADDomains — GET /api/v1/ad-domains.
func (h *APIHandler) ListADDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.system.ListDomains(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения списка доменов")
		return
	}
	if domains == nil {
		domains = []model.ActiveDirectoryDomain{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": domains})
}

// CreateADDomain — POST /api/v1/ad-domains.
// Сбрасывает кэш доменов.
func (h *APIHandler) CreateADDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	d, err := h.system.CreateDomain(r.Context(), &model.ActiveDirectoryDomain{
		Name:               req.Name,
		FullyQualifiedName: req.FullyQualifiedName,
		DirectoryType:      req.DirectoryType,
		ServerAddress:      req.ServerAddress,
		IsActive:           active,
		IsSupportDomain:    req.IsSupportDomain,
	}, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err, "Ошибка создания домена")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDevices — GET /api/v1/devices.
func (h *APIHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.system.ListDevices(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "Ошибка получения списка устройств")
		return
	}
	if devices == nil {
		devices = []*model.DispensingDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": devices})
}

// CreateDevice — POST /api/v1/devices.
func (h *APIHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.system.CreateDevice(r.Context(), &model.DispensingDevice{
		Name:                req.Name,
		RequireClinicalUser: req.RequireClinicalUser,
	}, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err, "Ошибка создания устройства")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// SetDeviceOutOfService — POST /api/v1/devices/{key}/out-of-service.
func (h *APIHandler) SetDeviceOutOfService(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req outOfServiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.system.SetDeviceOutOfService(r.Context(), key, req.OutOfService, req.Reason, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err, "Ошибка изменения состояния устройства")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
