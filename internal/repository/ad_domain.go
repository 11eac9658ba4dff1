package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// ADDomainRepository — доступ к таблице active_directory_domains.
type ADDomainRepository interface {
	// Create регистрирует домен.
	Create(ctx context.Context, domain *model.ActiveDirectoryDomain) error
	// GetByKey возвращает домен по ключу.
	GetByKey(ctx context.Context, key uuid.UUID) (*model.ActiveDirectoryDomain, error)
	// List возвращает все домены, включая неактивные.
	List(ctx context.Context) ([]model.ActiveDirectoryDomain, error)
}

type adDomainRepo struct {
	db DBTX
}

// NewADDomainRepository создаёт репозиторий доменов AD.
func NewADDomainRepository(db DBTX) ADDomainRepository {
	return &adDomainRepo{db: db}
}

const adDomainColumns = `key, name, fully_qualified_name, directory_type, server_address,
	is_active, is_support_domain, created_at, updated_at`

func scanADDomain(row pgx.Row, d *model.ActiveDirectoryDomain) error {
	return row.Scan(
		&d.Key, &d.Name, &d.FullyQualifiedName, &d.DirectoryType, &d.ServerAddress,
		&d.IsActive, &d.IsSupportDomain, &d.CreatedAt, &d.UpdatedAt,
	)
}

func (r *adDomainRepo) Create(ctx context.Context, d *model.ActiveDirectoryDomain) error {
	if d.Key == uuid.Nil {
		d.Key = uuid.New()
	}
	if d.DirectoryType == "" {
		d.DirectoryType = model.DirectoryTypeActiveDirectory
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO active_directory_domains (key, name, fully_qualified_name, directory_type,
			server_address, is_active, is_support_domain)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.Key, d.Name, d.FullyQualifiedName, d.DirectoryType,
		d.ServerAddress, d.IsActive, d.IsSupportDomain,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: домен %q уже зарегистрирован", ErrConflict, d.Name)
		}
		return fmt.Errorf("ошибка создания домена: %w", err)
	}
	return nil
}

func (r *adDomainRepo) GetByKey(ctx context.Context, key uuid.UUID) (*model.ActiveDirectoryDomain, error) {
	d := &model.ActiveDirectoryDomain{}
	query := fmt.Sprintf(`SELECT %s FROM active_directory_domains WHERE key = $1`, adDomainColumns)
	if err := scanADDomain(r.db.QueryRow(ctx, query, key), d); err != nil {
		return nil, notFoundOr(err, "ошибка получения домена")
	}
	return d, nil
}

func (r *adDomainRepo) List(ctx context.Context) ([]model.ActiveDirectoryDomain, error) {
	query := fmt.Sprintf(`SELECT %s FROM active_directory_domains ORDER BY name`, adDomainColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка доменов: %w", err)
	}
	defer rows.Close()

	var result []model.ActiveDirectoryDomain
	for rows.Next() {
		var d model.ActiveDirectoryDomain
		if err := scanADDomain(rows, &d); err != nil {
			return nil, fmt.Errorf("ошибка сканирования домена: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
