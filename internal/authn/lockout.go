package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

// lastActivity возвращает точку отсчёта неактивности: самое позднее из
// успешной аутентификации, разблокировки, восстановления и создания.
func lastActivity(account *model.AuthUserAccount, activity *model.AccountActivity) time.Time {
	ref := account.CreatedAt
	later := func(t *time.Time) {
		if t != nil && t.After(ref) {
			ref = *t
		}
	}
	later(account.LastSuccessfulAuth)
	if activity != nil {
		later(activity.LastAuthenticated)
		later(activity.LastUnlocked)
		later(activity.LastUndeleted)
	}
	return ref
}

// LockNoAuthenticationUserAccount блокирует учётную запись, не проходившую
// аутентификацию дольше порога политики. Возвращает nil, если вход можно
// продолжать; AccountLocked для уже заблокированной; NoRecentAccessLock,
// если блокировка выполнена сейчас. Учётные записи поддержки не блокируются.
func (m *Manager) LockNoAuthenticationUserAccount(ctx context.Context, account *model.AuthUserAccount) (*model.AuthenticationResult, error) {
	if account.IsLocked {
		return model.Failure(model.ResultAccountLocked, "учётная запись заблокирована"), nil
	}
	if account.IsSupportUser {
		return nil, nil
	}

	settings, err := m.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	lockAfter := settings.LockAfter()
	if lockAfter <= 0 {
		return nil, nil
	}

	activity, err := m.activity.Activity(ctx, account.Key)
	if err != nil {
		return nil, fmt.Errorf("получение активности учётной записи: %w", err)
	}

	now := m.now()
	ref := lastActivity(account, activity)
	if now.Sub(ref) <= lockAfter {
		return nil, nil
	}

	err = m.accounts.SetLocked(ctx, account.Key, true, model.LockReasonNoRecentAccess)
	if errors.Is(err, repository.ErrUnchanged) {
		// заблокирована параллельной попыткой
		return model.Failure(model.ResultAccountLocked, "учётная запись заблокирована"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("блокировка учётной записи: %w", err)
	}
	accountsLockedTotal.WithLabelValues(model.LockReasonNoRecentAccess).Inc()

	m.logger.Warn("Учётная запись заблокирована по неактивности",
		slog.String("user_id", account.QualifiedUserID()),
		slog.String("account_key", account.Key.String()),
		slog.Time("last_activity", ref),
		slog.Int("lock_after_days", *settings.LockAfterNoAuthenticationDays),
	)

	return model.Failure(model.ResultNoRecentAccessLock,
		fmt.Sprintf("нет успешных входов с %s", ref.UTC().Format(time.DateOnly))), nil
}
