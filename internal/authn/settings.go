package authn

import (
	"context"
	"fmt"

	"github.com/bigkaa/meddispense/dispensing-module/internal/cache"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// SettingsSource — хранилище политик системы.
// Реализуется repository.DispensingSystemRepository.
type SettingsSource interface {
	Get(ctx context.Context) (*model.DispensingSystem, error)
}

const settingsCacheKey = "dispensing_system"

// SettingsProvider — политики системы с кэшированием.
type SettingsProvider struct {
	source SettingsSource
	cache  cache.Cache[string, *model.DispensingSystem]
}

// NewSettingsProvider создаёт провайдер политик поверх кэша c.
func NewSettingsProvider(source SettingsSource, c cache.Cache[string, *model.DispensingSystem]) *SettingsProvider {
	return &SettingsProvider{source: source, cache: c}
}

// Get возвращает текущие политики.
func (p *SettingsProvider) Get(ctx context.Context) (*model.DispensingSystem, error) {
	s, err := p.cache.GetOrLoad(ctx, settingsCacheKey, p.source.Get)
	if err != nil {
		return nil, fmt.Errorf("получение политик системы: %w", err)
	}
	return s, nil
}

// Invalidate сбрасывает кэш после изменения политик.
func (p *SettingsProvider) Invalidate() {
	p.cache.Delete(settingsCacheKey)
}
