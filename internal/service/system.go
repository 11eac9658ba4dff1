// system.go — справочники аутентификации: политики системы, домены AD,
// устройства выдачи. Изменения сбрасывают кэши аутентификации.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

// Invalidator — кэш, сбрасываемый после изменения данных.
type Invalidator interface {
	Invalidate()
}

// SystemService — управление политиками, доменами и устройствами.
type SystemService struct {
	settings      repository.DispensingSystemRepository
	domains       repository.ADDomainRepository
	devices       repository.DeviceRepository
	settingsCache Invalidator
	domainCache   Invalidator
	logger        *slog.Logger
}

// NewSystemService создаёт сервис справочников.
func NewSystemService(
	settings repository.DispensingSystemRepository,
	domains repository.ADDomainRepository,
	devices repository.DeviceRepository,
	settingsCache, domainCache Invalidator,
	logger *slog.Logger,
) *SystemService {
	return &SystemService{
		settings:      settings,
		domains:       domains,
		devices:       devices,
		settingsCache: settingsCache,
		domainCache:   domainCache,
		logger:        logger.With(slog.String("component", "system_service")),
	}
}

// GetSettings возвращает политики системы из БД (без кэша).
func (s *SystemService) GetSettings(ctx context.Context) (*model.DispensingSystem, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, notFoundOr(err, "получение политик системы")
	}
	return settings, nil
}

// UpdateSettings валидирует и сохраняет политики системы.
// Ноль в сроках блокировки и истечения пароля означает «политика выключена».
func (s *SystemService) UpdateSettings(ctx context.Context, in *model.DispensingSystem, actor string) (*model.DispensingSystem, error) {
	in.LockAfterNoAuthenticationDays = zeroAsNil(in.LockAfterNoAuthenticationDays)
	in.PasswordExpirationDays = zeroAsNil(in.PasswordExpirationDays)

	verr := &ValidationError{}
	if in.LockAfterNoAuthenticationDays != nil && *in.LockAfterNoAuthenticationDays < 0 {
		verr.Add("lock_after_no_authentication_days", "не может быть отрицательным")
	}
	if in.PasswordExpirationDays != nil && *in.PasswordExpirationDays < 0 {
		verr.Add("password_expiration_days", "не может быть отрицательным")
	}
	if in.PasswordWarningDays < 0 {
		verr.Add("password_warning_days", "не может быть отрицательным")
	}
	if in.TemporaryAccountDays < 1 {
		verr.Add("temporary_account_days", "не менее 1 дня")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.settings.Update(ctx, in); err != nil {
		return nil, fmt.Errorf("сохранение политик системы: %w", err)
	}
	s.settingsCache.Invalidate()

	s.logger.Info("Политики системы изменены",
		slog.Bool("allow_disconnected_authentication", in.AllowDisconnectedAuthentication),
		slog.String("actor", actor),
	)
	return s.GetSettings(ctx)
}

func zeroAsNil(v *int) *int {
	if v != nil && *v == 0 {
		return nil
	}
	return v
}

// ListDomains возвращает все домены AD.
func (s *SystemService) ListDomains(ctx context.Context) ([]model.ActiveDirectoryDomain, error) {
	domains, err := s.domains.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка доменов: %w", err)
	}
	return domains, nil
}

// CreateDomain регистрирует домен AD.
func (s *SystemService) CreateDomain(ctx context.Context, d *model.ActiveDirectoryDomain, actor string) (*model.ActiveDirectoryDomain, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.FullyQualifiedName = strings.TrimSuffix(strings.TrimSpace(d.FullyQualifiedName), ".")
	d.ServerAddress = strings.TrimSpace(d.ServerAddress)

	verr := &ValidationError{}
	if d.Name == "" || strings.ContainsAny(d.Name, `\@. `) {
		verr.Add("name", "обязательное поле без символов \\, @, точки и пробелов")
	}
	if d.FullyQualifiedName == "" || !strings.Contains(d.FullyQualifiedName, ".") {
		verr.Add("fully_qualified_name", "ожидается полное имя домена (corp.example.com)")
	}
	switch d.DirectoryType {
	case "", model.DirectoryTypeActiveDirectory, model.DirectoryTypeLDAP:
	default:
		verr.Add("directory_type", "допустимые значения: active_directory, ldap")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.domains.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fieldError("name", "домен с таким именем уже зарегистрирован")
		}
		return nil, fmt.Errorf("создание домена: %w", err)
	}
	s.domainCache.Invalidate()

	s.logger.Info("Домен зарегистрирован",
		slog.String("domain", d.Name),
		slog.String("fqdn", d.FullyQualifiedName),
		slog.String("actor", actor),
	)
	return d, nil
}

// ListDevices возвращает все устройства выдачи.
func (s *SystemService) ListDevices(ctx context.Context) ([]*model.DispensingDevice, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка устройств: %w", err)
	}
	return devices, nil
}

// CreateDevice регистрирует устройство выдачи.
func (s *SystemService) CreateDevice(ctx context.Context, d *model.DispensingDevice, actor string) (*model.DispensingDevice, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, fieldError("name", "обязательное поле")
	}
	if err := s.devices.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fieldError("name", "устройство с таким именем уже зарегистрировано")
		}
		return nil, fmt.Errorf("создание устройства: %w", err)
	}
	s.logger.Info("Устройство зарегистрировано",
		slog.String("device", d.Name),
		slog.String("actor", actor),
	)
	return d, nil
}

// SetDeviceOutOfService выводит устройство из работы или возвращает в работу.
func (s *SystemService) SetDeviceOutOfService(ctx context.Context, key uuid.UUID, outOfService bool, reason, actor string) (*model.DispensingDevice, error) {
	if err := s.devices.SetOutOfService(ctx, key, outOfService, strings.TrimSpace(reason)); err != nil {
		return nil, notFoundOr(err, "изменение состояния устройства")
	}
	device, err := s.devices.GetByKey(ctx, key)
	if err != nil {
		return nil, notFoundOr(err, "получение устройства")
	}
	s.logger.Info("Состояние устройства изменено",
		slog.String("device", device.Name),
		slog.Bool("out_of_service", outOfService),
		slog.String("actor", actor),
	)
	return device, nil
}
