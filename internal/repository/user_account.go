package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// UserAccountFilter — параметры выборки списка учётных записей.
type UserAccountFilter struct {
	// DomainKey — только учётные записи домена
	DomainKey *uuid.UUID
	// Search — подстрока user_id, first_name или last_name
	Search string
	// IncludeInactive — включать деактивированные учётные записи
	IncludeInactive bool
	Limit           int
	Offset          int
}

// UserAccountRepository — доступ к таблице user_accounts.
type UserAccountRepository interface {
	// Create создаёт учётную запись.
	Create(ctx context.Context, account *model.AuthUserAccount) error
	// GetByKey возвращает учётную запись по первичному ключу.
	GetByKey(ctx context.Context, key uuid.UUID) (*model.AuthUserAccount, error)
	// GetByUserID ищет учётную запись по user_id в домене (nil — локальные).
	// Сравнение user_id регистронезависимое.
	GetByUserID(ctx context.Context, userID string, domainKey *uuid.UUID) (*model.AuthUserAccount, error)
	// GetByScanCode ищет учётную запись по коду бейджа.
	GetByScanCode(ctx context.Context, scanCode string) (*model.AuthUserAccount, error)
	// List возвращает учётные записи по фильтру.
	List(ctx context.Context, filter UserAccountFilter) ([]*model.AuthUserAccount, error)
	// Count возвращает количество учётных записей по фильтру (без Limit/Offset).
	Count(ctx context.Context, filter UserAccountFilter) (int, error)
	// SetLocked блокирует/разблокирует учётную запись и пишет событие в журнал.
	SetLocked(ctx context.Context, key uuid.UUID, locked bool, reason string) error
	// SetActive активирует/деактивирует учётную запись и пишет событие в журнал.
	// Активация (undelete) также снимает блокировку.
	SetActive(ctx context.Context, key uuid.UUID, active bool) error
	// RecordAuthentication фиксирует успешную аутентификацию.
	RecordAuthentication(ctx context.Context, key uuid.UUID, at time.Time) error
	// RecordPasswordNotice фиксирует показ уведомления об истечении пароля.
	RecordPasswordNotice(ctx context.Context, key uuid.UUID, at time.Time) error
	// SetPassword сохраняет новый хэш пароля и срок его действия.
	SetPassword(ctx context.Context, key uuid.UUID, hash string, changedAt time.Time, expiresAt *time.Time) error
}

type userAccountRepo struct {
	db DBTX
}

// NewUserAccountRepository создаёт репозиторий учётных записей.
func NewUserAccountRepository(db DBTX) UserAccountRepository {
	return &userAccountRepo{db: db}
}

const userAccountColumns = `ua.key, ua.user_id, ua.domain_key, COALESCE(d.name, ''),
	ua.first_name, ua.last_name, ua.is_active, ua.is_locked, ua.is_support_user,
	ua.is_temporary, ua.temporary_expiration_at, ua.is_clinical_user, ua.scan_code,
	ua.password_hash, ua.last_password_change_at, ua.password_expiration_at,
	ua.last_password_notice_at, ua.last_successful_auth_at, ua.created_at, ua.updated_at`

const userAccountFrom = `user_accounts ua
	LEFT JOIN active_directory_domains d ON d.key = ua.domain_key`

// scanUserAccount сканирует строку результата в модель AuthUserAccount.
func scanUserAccount(row pgx.Row) (*model.AuthUserAccount, error) {
	a := &model.AuthUserAccount{}
	err := row.Scan(
		&a.Key, &a.UserID, &a.DomainKey, &a.DomainName,
		&a.FirstName, &a.LastName, &a.IsActive, &a.IsLocked, &a.IsSupportUser,
		&a.IsTemporary, &a.TemporaryExpiration, &a.IsClinicalUser, &a.ScanCode,
		&a.PasswordHash, &a.LastPasswordChange, &a.PasswordExpiration,
		&a.LastPasswordNotice, &a.LastSuccessfulAuth, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func (r *userAccountRepo) Create(ctx context.Context, a *model.AuthUserAccount) error {
	if a.Key == uuid.Nil {
		a.Key = uuid.New()
	}
	query := `
		INSERT INTO user_accounts (key, user_id, domain_key, first_name, last_name,
			is_active, is_locked, is_support_user, is_temporary, temporary_expiration_at,
			is_clinical_user, scan_code, password_hash, last_password_change_at,
			password_expiration_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.Key, a.UserID, a.DomainKey, a.FirstName, a.LastName,
		a.IsActive, a.IsLocked, a.IsSupportUser, a.IsTemporary, a.TemporaryExpiration,
		a.IsClinicalUser, a.ScanCode, a.PasswordHash, a.LastPasswordChange,
		a.PasswordExpiration,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: учётная запись %q уже существует", ErrConflict, a.UserID)
		}
		return fmt.Errorf("ошибка создания учётной записи: %w", err)
	}
	return nil
}

func (r *userAccountRepo) GetByKey(ctx context.Context, key uuid.UUID) (*model.AuthUserAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ua.key = $1`, userAccountColumns, userAccountFrom)
	a, err := scanUserAccount(r.db.QueryRow(ctx, query, key))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения учётной записи")
	}
	return a, nil
}

func (r *userAccountRepo) GetByUserID(ctx context.Context, userID string, domainKey *uuid.UUID) (*model.AuthUserAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE lower(ua.user_id) = lower($1) AND ua.domain_key IS NOT DISTINCT FROM $2`,
		userAccountColumns, userAccountFrom)
	a, err := scanUserAccount(r.db.QueryRow(ctx, query, userID, domainKey))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения учётной записи по user_id")
	}
	return a, nil
}

func (r *userAccountRepo) GetByScanCode(ctx context.Context, scanCode string) (*model.AuthUserAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ua.scan_code = $1`, userAccountColumns, userAccountFrom)
	a, err := scanUserAccount(r.db.QueryRow(ctx, query, scanCode))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения учётной записи по коду бейджа")
	}
	return a, nil
}

// buildUserAccountWhere формирует WHERE и аргументы по фильтру.
func buildUserAccountWhere(filter UserAccountFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.DomainKey != nil {
		args = append(args, *filter.DomainKey)
		conditions = append(conditions, fmt.Sprintf("ua.domain_key = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		conditions = append(conditions, "ua.is_active")
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(lower(ua.user_id) LIKE $%d OR lower(ua.first_name) LIKE $%d OR lower(ua.last_name) LIKE $%d)", n, n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *userAccountRepo) List(ctx context.Context, filter UserAccountFilter) ([]*model.AuthUserAccount, error) {
	where, args := buildUserAccountWhere(filter)
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		%s
		ORDER BY ua.last_name, ua.first_name, ua.user_id
		LIMIT $%d OFFSET $%d`, userAccountColumns, userAccountFrom, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка учётных записей: %w", err)
	}
	defer rows.Close()

	var result []*model.AuthUserAccount
	for rows.Next() {
		a, err := scanUserAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования учётной записи: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *userAccountRepo) Count(ctx context.Context, filter UserAccountFilter) (int, error) {
	where, args := buildUserAccountWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, userAccountFrom, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта учётных записей: %w", err)
	}
	return count, nil
}

// updateWithEvent обновляет учётную запись и пишет событие одним запросом.
func (r *userAccountRepo) updateWithEvent(ctx context.Context, set string, key uuid.UUID,
	event model.UserAccountEventType, reason string, args ...any) error {
	return r.updateWithEventWhere(ctx, set, "", key, event, reason, args...)
}

// updateWithEventWhere — updateWithEvent с дополнительным условием where.
// Если условие не выполнено для существующей записи, возвращает ErrUnchanged.
func (r *userAccountRepo) updateWithEventWhere(ctx context.Context, set, where string, key uuid.UUID,
	event model.UserAccountEventType, reason string, args ...any) error {
	cond := "key = $1"
	if where != "" {
		cond += " AND " + where
	}
	query := fmt.Sprintf(`
		WITH upd AS (
			UPDATE user_accounts SET %s, updated_at = NOW()
			WHERE %s
			RETURNING key
		)
		INSERT INTO user_account_events (user_account_key, event_type, reason)
		SELECT key, $2, $3 FROM upd`, set, cond)

	tag, err := r.db.Exec(ctx, query, append([]any{key, string(event), reason}, args...)...)
	if err != nil {
		return fmt.Errorf("ошибка обновления учётной записи (%s): %w", event, err)
	}
	if tag.RowsAffected() == 0 {
		if where == "" {
			return ErrNotFound
		}
		return r.notFoundOrUnchanged(ctx, key)
	}
	return nil
}

func (r *userAccountRepo) notFoundOrUnchanged(ctx context.Context, key uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_accounts WHERE key = $1)`, key).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки учётной записи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrUnchanged
}

// SetLocked меняет блокировку только если она отличается от текущей:
// параллельные попытки пишут одно событие, остальные получают ErrUnchanged.
func (r *userAccountRepo) SetLocked(ctx context.Context, key uuid.UUID, locked bool, reason string) error {
	event := model.EventUnlocked
	if locked {
		event = model.EventLocked
	}
	return r.updateWithEventWhere(ctx, "is_locked = $4", "is_locked IS DISTINCT FROM $4", key, event, reason, locked)
}

func (r *userAccountRepo) SetActive(ctx context.Context, key uuid.UUID, active bool) error {
	if active {
		return r.updateWithEvent(ctx, "is_active = TRUE, is_locked = FALSE", key, model.EventUndeleted, "")
	}
	return r.updateWithEvent(ctx, "is_active = FALSE", key, model.EventDeactivated, "")
}

func (r *userAccountRepo) RecordAuthentication(ctx context.Context, key uuid.UUID, at time.Time) error {
	return r.updateWithEvent(ctx, "last_successful_auth_at = $4", key, model.EventAuthenticated, "", at)
}

func (r *userAccountRepo) RecordPasswordNotice(ctx context.Context, key uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_accounts SET last_password_notice_at = $2, updated_at = NOW() WHERE key = $1`, key, at)
	if err != nil {
		return fmt.Errorf("ошибка сохранения времени уведомления о пароле: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userAccountRepo) SetPassword(ctx context.Context, key uuid.UUID, hash string, changedAt time.Time, expiresAt *time.Time) error {
	return r.updateWithEvent(ctx,
		"password_hash = $4, last_password_change_at = $5, password_expiration_at = $6, last_password_notice_at = NULL",
		key, model.EventPasswordChanged, "", hash, changedAt, expiresAt)
}
