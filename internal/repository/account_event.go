package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// AccountEventRepository — журнал событий учётных записей (user_account_events).
// События пишутся вместе с изменением учётной записи (UserAccountRepository).
type AccountEventRepository interface {
	// Activity возвращает время последних аутентификации, разблокировки и восстановления.
	Activity(ctx context.Context, accountKey uuid.UUID) (*model.AccountActivity, error)
	// ListByAccount возвращает события учётной записи, новые первыми.
	ListByAccount(ctx context.Context, accountKey uuid.UUID, limit int) ([]*model.UserAccountEvent, error)
}

type accountEventRepo struct {
	db DBTX
}

// NewAccountEventRepository создаёт репозиторий журнала событий.
func NewAccountEventRepository(db DBTX) AccountEventRepository {
	return &accountEventRepo{db: db}
}

func (r *accountEventRepo) Activity(ctx context.Context, accountKey uuid.UUID) (*model.AccountActivity, error) {
	a := &model.AccountActivity{}
	err := r.db.QueryRow(ctx, `
		SELECT
			MAX(occurred_at) FILTER (WHERE event_type = 'authenticated'),
			MAX(occurred_at) FILTER (WHERE event_type = 'unlocked'),
			MAX(occurred_at) FILTER (WHERE event_type = 'undeleted')
		FROM user_account_events
		WHERE user_account_key = $1`, accountKey,
	).Scan(&a.LastAuthenticated, &a.LastUnlocked, &a.LastUndeleted)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активности учётной записи: %w", err)
	}
	return a, nil
}

func (r *accountEventRepo) ListByAccount(ctx context.Context, accountKey uuid.UUID, limit int) ([]*model.UserAccountEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT key, user_account_key, event_type, reason, occurred_at
		FROM user_account_events
		WHERE user_account_key = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, accountKey, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий учётной записи: %w", err)
	}
	defer rows.Close()

	var result []*model.UserAccountEvent
	for rows.Next() {
		e := &model.UserAccountEvent{}
		var eventType string
		if err := rows.Scan(&e.Key, &e.UserAccountKey, &eventType, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события: %w", err)
		}
		e.EventType = model.UserAccountEventType(eventType)
		result = append(result, e)
	}
	return result, rows.Err()
}
