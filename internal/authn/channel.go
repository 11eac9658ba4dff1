package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

// PreHook выполняется до проверки учётных данных. Ненулевой результат
// завершает попытку.
type PreHook func(ctx context.Context, attempt *Attempt) (*model.AuthenticationResult, error)

// PostHook выполняется после успешной проверки учётных данных. Ненулевой
// результат заменяет успех отказом.
type PostHook func(ctx context.Context, attempt *Attempt, result *model.AuthenticationResult) *model.AuthenticationResult

// Channel — канал входа: набор хуков поверх общей политики аутентификации.
type Channel struct {
	Name string
	// AllowScanCode — разрешён вход по коду бейджа
	AllowScanCode bool
	Before        []PreHook
	After         []PostHook
}

// Названия каналов.
const (
	ChannelDevice = "device"
	ChannelWeb    = "web"
)

// ErrDeviceRequired — вход на устройстве без указания устройства.
var ErrDeviceRequired = errors.New("не указано устройство")

// DeviceChannel — вход на шкафу выдачи: проверка, что устройство
// обслуживается, и ограничение на клинический персонал.
func DeviceChannel(devices DeviceStore) Channel {
	return Channel{
		Name:          ChannelDevice,
		AllowScanCode: true,
		Before:        []PreHook{deviceInService(devices)},
		After:         []PostHook{clinicalUserRequired},
	}
}

// WebChannel — вход через веб-интерфейс. Учётные записи поддержки
// допускаются только при allowSupportUsers.
func WebChannel(allowSupportUsers bool) Channel {
	ch := Channel{Name: ChannelWeb}
	if !allowSupportUsers {
		ch.After = append(ch.After, supportUserDenied)
	}
	return ch
}

// deviceInService загружает устройство и отклоняет вход на выведенном из
// работы устройстве. Учётные записи поддержки входят на такие устройства.
func deviceInService(devices DeviceStore) PreHook {
	return func(ctx context.Context, attempt *Attempt) (*model.AuthenticationResult, error) {
		if attempt.Request.DeviceKey == nil {
			return nil, ErrDeviceRequired
		}
		device, err := devices.GetByKey(ctx, *attempt.Request.DeviceKey)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.Failure(model.ResultDeviceOutOfService, "устройство не зарегистрировано"), nil
			}
			return nil, fmt.Errorf("получение устройства: %w", err)
		}
		attempt.Device = device

		if device.IsOutOfService && (attempt.Account == nil || !attempt.Account.IsSupportUser) {
			reason := device.OutOfServiceReason
			if reason == "" {
				reason = "устройство не обслуживается"
			}
			return model.Failure(model.ResultDeviceOutOfService, reason), nil
		}
		return nil, nil
	}
}

// clinicalUserRequired запрещает вход неклиническому персоналу на
// устройствах, требующих клинического пользователя.
func clinicalUserRequired(_ context.Context, attempt *Attempt, result *model.AuthenticationResult) *model.AuthenticationResult {
	account := result.UserAccount
	if attempt.Device == nil || !attempt.Device.RequireClinicalUser || account.IsSupportUser {
		return nil
	}
	if !account.IsClinicalUser {
		return model.Failure(model.ResultNonClinicalUserNotAllowed, "устройство доступно только клиническому персоналу")
	}
	return nil
}

// supportUserDenied запрещает вход учётным записям поддержки.
func supportUserDenied(_ context.Context, _ *Attempt, result *model.AuthenticationResult) *model.AuthenticationResult {
	if result.UserAccount.IsSupportUser {
		return model.Failure(model.ResultSupportUserNotAllowed, "вход учётной записи поддержки через веб запрещён")
	}
	return nil
}
