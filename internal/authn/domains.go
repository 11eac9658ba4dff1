package authn

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/cache"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/accountid"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// DomainSource — хранилище доменов AD. Реализуется repository.ADDomainRepository.
type DomainSource interface {
	List(ctx context.Context) ([]model.ActiveDirectoryDomain, error)
}

const domainsCacheKey = "active_directory_domains"

// DomainResolver — разрешение доменных user id по кэшированному списку доменов.
type DomainResolver struct {
	source DomainSource
	cache  cache.Cache[string, []model.ActiveDirectoryDomain]
}

// NewDomainResolver создаёт резолвер поверх кэша c.
func NewDomainResolver(source DomainSource, c cache.Cache[string, []model.ActiveDirectoryDomain]) *DomainResolver {
	return &DomainResolver{source: source, cache: c}
}

// Domains возвращает список доменов (включая неактивные).
func (r *DomainResolver) Domains(ctx context.Context) ([]model.ActiveDirectoryDomain, error) {
	domains, err := r.cache.GetOrLoad(ctx, domainsCacheKey, r.source.List)
	if err != nil {
		return nil, fmt.Errorf("получение списка доменов: %w", err)
	}
	return domains, nil
}

// ByKey возвращает домен по ключу.
func (r *DomainResolver) ByKey(ctx context.Context, key uuid.UUID) (*model.ActiveDirectoryDomain, bool, error) {
	domains, err := r.Domains(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range domains {
		if domains[i].Key == key {
			d := domains[i]
			return &d, true, nil
		}
	}
	return nil, false, nil
}

// Resolve разбирает creds.UserID. Для квалифицированного имени ищет активный
// домен, заменяет UserID на имя без домена и записывает домен в creds.Domain.
// Неквалифицированное имя возвращается без домена с ok = true.
// ok = false — квалификатор не соответствует ни одному активному домену.
func (r *DomainResolver) Resolve(ctx context.Context, creds *model.TokenCredentials) (*model.ActiveDirectoryDomain, bool, error) {
	id := accountid.Parse(creds.UserID)
	creds.UserID = id.User
	if !id.Qualified() {
		return nil, true, nil
	}

	domains, err := r.Domains(ctx)
	if err != nil {
		return nil, false, err
	}

	d, ok := accountid.Resolve(domains, id.Qualifier)
	if !ok {
		return nil, false, nil
	}
	resolved := *d
	creds.Domain = strings.ToLower(resolved.Name)
	return &resolved, true, nil
}

// Invalidate сбрасывает кэш доменов.
func (r *DomainResolver) Invalidate() {
	r.cache.Delete(domainsCacheKey)
}
