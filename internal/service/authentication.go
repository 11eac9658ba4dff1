// authentication.go — вход пользователей через шкаф выдачи и веб-интерфейс.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/authn"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// Authenticator — политика аутентификации (authn.Manager).
type Authenticator interface {
	Authenticate(ctx context.Context, ch authn.Channel, req *authn.Request) (*model.AuthenticationResult, error)
	VerifyUser(ctx context.Context, ch authn.Channel, req *authn.Request) (*model.AuthenticationResult, error)
}

// LoginInput — учётные данные попытки входа.
type LoginInput struct {
	UserID    string
	Password  string
	ScanCode  string
	DeviceKey *uuid.UUID
}

// AuthenticationService — вход по каналам device и web.
type AuthenticationService struct {
	authn  Authenticator
	device authn.Channel
	web    authn.Channel
}

// NewAuthenticationService создаёт сервис входа с каналами device и web.
func NewAuthenticationService(a Authenticator, device, web authn.Channel) *AuthenticationService {
	return &AuthenticationService{authn: a, device: device, web: web}
}

// AuthenticateDevice — вход на шкафу выдачи (user id или код бейджа).
func (s *AuthenticationService) AuthenticateDevice(ctx context.Context, in LoginInput) (*model.AuthenticationResult, error) {
	if err := validateLogin(in, true); err != nil {
		return nil, err
	}
	return s.call(s.authn.Authenticate(ctx, s.device, toRequest(in)))
}

// AuthenticateWeb — вход через веб-интерфейс.
func (s *AuthenticationService) AuthenticateWeb(ctx context.Context, in LoginInput) (*model.AuthenticationResult, error) {
	in.ScanCode = ""
	if err := validateLogin(in, false); err != nil {
		return nil, err
	}
	return s.call(s.authn.Authenticate(ctx, s.web, toRequest(in)))
}

// Verify — подтверждение личности (свидетель, повторная проверка) по каналу
// channel: authn.ChannelDevice или authn.ChannelWeb.
func (s *AuthenticationService) Verify(ctx context.Context, channel string, in LoginInput) (*model.AuthenticationResult, error) {
	var ch authn.Channel
	switch channel {
	case authn.ChannelDevice:
		ch = s.device
	case authn.ChannelWeb, "":
		ch = s.web
		in.ScanCode = ""
	default:
		return nil, fieldError("channel", "допустимые значения: device, web")
	}
	if err := validateLogin(in, ch.AllowScanCode); err != nil {
		return nil, err
	}
	return s.call(s.authn.VerifyUser(ctx, ch, toRequest(in)))
}

func (s *AuthenticationService) call(result *model.AuthenticationResult, err error) (*model.AuthenticationResult, error) {
	if errors.Is(err, authn.ErrDeviceRequired) {
		return nil, fieldError("device_key", "обязательное поле для входа на устройстве")
	}
	return result, err
}

func validateLogin(in LoginInput, allowScanCode bool) error {
	verr := &ValidationError{}
	hasScan := allowScanCode && strings.TrimSpace(in.ScanCode) != ""
	if strings.TrimSpace(in.UserID) == "" && !hasScan {
		verr.Add("user_id", "обязательное поле")
	}
	if in.Password == "" {
		verr.Add("password", "обязательное поле")
	}
	return verr.OrNil()
}

func toRequest(in LoginInput) *authn.Request {
	return &authn.Request{
		UserID:    strings.TrimSpace(in.UserID),
		Password:  in.Password,
		ScanCode:  strings.TrimSpace(in.ScanCode),
		DeviceKey: in.DeviceKey,
	}
}
