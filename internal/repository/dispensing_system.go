package repository

import (
	"context"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// DispensingSystemRepository — глобальные политики (таблица dispensing_system, одна строка).
type DispensingSystemRepository interface {
	// Get возвращает текущие политики.
	Get(ctx context.Context) (*model.DispensingSystem, error)
	// Update сохраняет политики.
	Update(ctx context.Context, s *model.DispensingSystem) error
}

type dispensingSystemRepo struct {
	db DBTX
}

// NewDispensingSystemRepository создаёт репозиторий политик системы.
func NewDispensingSystemRepository(db DBTX) DispensingSystemRepository {
	return &dispensingSystemRepo{db: db}
}

func (r *dispensingSystemRepo) Get(ctx context.Context) (*model.DispensingSystem, error) {
	s := &model.DispensingSystem{}
	err := r.db.QueryRow(ctx, `
		SELECT lock_after_no_auth_days, allow_disconnected_auth, password_expiration_days,
			password_warning_days, temporary_account_days, updated_at
		FROM dispensing_system WHERE id = 1`,
	).Scan(
		&s.LockAfterNoAuthenticationDays, &s.AllowDisconnectedAuthentication,
		&s.PasswordExpirationDays, &s.PasswordWarningDays, &s.TemporaryAccountDays,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения политик системы")
	}
	return s, nil
}

func (r *dispensingSystemRepo) Update(ctx context.Context, s *model.DispensingSystem) error {
	err := r.db.QueryRow(ctx, `
		UPDATE dispensing_system
		SET lock_after_no_auth_days = $1, allow_disconnected_auth = $2,
			password_expiration_days = $3, password_warning_days = $4,
			temporary_account_days = $5, updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at`,
		s.LockAfterNoAuthenticationDays, s.AllowDisconnectedAuthentication,
		s.PasswordExpirationDays, s.PasswordWarningDays, s.TemporaryAccountDays,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return notFoundOr(err, "ошибка обновления политик системы")
	}
	return nil
}
