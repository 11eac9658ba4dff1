package authn

import (
	"math"
	"time"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

const day = 24 * time.Hour

// PasswordExpirationDaysRemaining возвращает число дней до истечения пароля
// (с округлением вверх) либо model.NoPasswordExpirationNotice, если:
// срок не задан, уведомление уже показывалось в течение noticeInterval,
// или до истечения больше warningDays дней.
func PasswordExpirationDaysRemaining(account *model.AuthUserAccount, now time.Time, noticeInterval time.Duration, warningDays int) int {
	if account == nil || account.PasswordExpiration == nil {
		return model.NoPasswordExpirationNotice
	}
	if account.LastPasswordNotice != nil && now.Sub(*account.LastPasswordNotice) < noticeInterval {
		return model.NoPasswordExpirationNotice
	}

	remaining := account.PasswordExpiration.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(math.Ceil(remaining.Hours() / 24))
	if days > warningDays {
		return model.NoPasswordExpirationNotice
	}
	return days
}

// PasswordExpiration вычисляет срок действия нового пароля; nil — бессрочный.
func PasswordExpiration(changedAt time.Time, expirationDays *int) *time.Time {
	if expirationDays == nil || *expirationDays <= 0 {
		return nil
	}
	t := changedAt.Add(time.Duration(*expirationDays) * day)
	return &t
}
