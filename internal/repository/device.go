package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// DeviceRepository — доступ к таблице dispensing_devices.
type DeviceRepository interface {
	// Create регистрирует устройство.
	Create(ctx context.Context, device *model.DispensingDevice) error
	// GetByKey возвращает устройство по ключу.
	GetByKey(ctx context.Context, key uuid.UUID) (*model.DispensingDevice, error)
	// List возвращает все устройства.
	List(ctx context.Context) ([]*model.DispensingDevice, error)
	// SetOutOfService переводит устройство в режим «не обслуживается» и обратно.
	SetOutOfService(ctx context.Context, key uuid.UUID, outOfService bool, reason string) error
}

type deviceRepo struct {
	db DBTX
}

// NewDeviceRepository создаёт репозиторий устройств.
func NewDeviceRepository(db DBTX) DeviceRepository {
	return &deviceRepo{db: db}
}

const deviceColumns = `key, name, is_out_of_service, out_of_service_reason,
	require_clinical_user, created_at, updated_at`

func scanDevice(row pgx.Row) (*model.DispensingDevice, error) {
	d := &model.DispensingDevice{}
	err := row.Scan(&d.Key, &d.Name, &d.IsOutOfService, &d.OutOfServiceReason,
		&d.RequireClinicalUser, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *deviceRepo) Create(ctx context.Context, d *model.DispensingDevice) error {
	if d.Key == uuid.Nil {
		d.Key = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO dispensing_devices (key, name, is_out_of_service, out_of_service_reason, require_clinical_user)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.Key, d.Name, d.IsOutOfService, d.OutOfServiceReason, d.RequireClinicalUser,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: устройство %q уже зарегистрировано", ErrConflict, d.Name)
		}
		return fmt.Errorf("ошибка создания устройства: %w", err)
	}
	return nil
}

func (r *deviceRepo) GetByKey(ctx context.Context, key uuid.UUID) (*model.DispensingDevice, error) {
	query := fmt.Sprintf(`SELECT %s FROM dispensing_devices WHERE key = $1`, deviceColumns)
	d, err := scanDevice(r.db.QueryRow(ctx, query, key))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения устройства")
	}
	return d, nil
}

func (r *deviceRepo) List(ctx context.Context) ([]*model.DispensingDevice, error) {
	query := fmt.Sprintf(`SELECT %s FROM dispensing_devices ORDER BY name`, deviceColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка устройств: %w", err)
	}
	defer rows.Close()

	var result []*model.DispensingDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования устройства: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *deviceRepo) SetOutOfService(ctx context.Context, key uuid.UUID, outOfService bool, reason string) error {
	if !outOfService {
		reason = ""
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE dispensing_devices
		SET is_out_of_service = $2, out_of_service_reason = $3, updated_at = NOW()
		WHERE key = $1`, key, outOfService, reason)
	if err != nil {
		return fmt.Errorf("ошибка обновления устройства: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
