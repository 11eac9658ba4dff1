// Пакет accountid — разбор доменных идентификаторов пользователей
// (DOMAIN\user, user@domain) и сопоставление квалификатора с настроенными
// доменами Active Directory.
package accountid

import (
	"strings"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// ID — разобранный идентификатор пользователя.
type ID struct {
	// User — имя пользователя без квалификатора
	User string
	// Qualifier — часть, указывающая домен; пустая для неквалифицированного имени
	Qualifier string
}

// Qualified сообщает, указан ли домен.
func (id ID) Qualified() bool {
	return id.Qualifier != ""
}

// Parse разбирает строку вида DOMAIN\user, user@domain или user.
// Пробелы по краям отбрасываются. Если одна из частей пуста, строка
// считается неквалифицированным именем целиком.
func Parse(raw string) ID {
	s := strings.TrimSpace(raw)

	if i := strings.IndexByte(s, '\\'); i >= 0 {
		qualifier, user := s[:i], s[i+1:]
		if qualifier != "" && user != "" {
			return ID{User: user, Qualifier: qualifier}
		}
		return ID{User: s}
	}

	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		user, qualifier := s[:i], s[i+1:]
		if qualifier != "" && user != "" {
			return ID{User: user, Qualifier: qualifier}
		}
	}
	return ID{User: s}
}

// Matches проверяет соответствие квалификатора домену: короткое имя,
// FQDN или FQDN без домена верхнего уровня (corp.example.com -> corp.example).
// Сравнение регистронезависимое.
func Matches(domain *model.ActiveDirectoryDomain, qualifier string) bool {
	q := strings.TrimSuffix(strings.TrimSpace(qualifier), ".")
	if q == "" || domain == nil {
		return false
	}
	if strings.EqualFold(q, domain.Name) {
		return true
	}
	fqdn := strings.TrimSuffix(domain.FullyQualifiedName, ".")
	if fqdn == "" {
		return false
	}
	if strings.EqualFold(q, fqdn) {
		return true
	}
	if i := strings.LastIndexByte(fqdn, '.'); i > 0 {
		return strings.EqualFold(q, fqdn[:i])
	}
	return false
}

// Resolve ищет активный домен, которому соответствует квалификатор.
// Совпадение по короткому имени приоритетнее совпадения по FQDN.
func Resolve(domains []model.ActiveDirectoryDomain, qualifier string) (*model.ActiveDirectoryDomain, bool) {
	var byFQDN *model.ActiveDirectoryDomain
	for i := range domains {
		d := &domains[i]
		if !d.IsActive {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(qualifier), d.Name) {
			return d, true
		}
		if byFQDN == nil && Matches(d, qualifier) {
			byFQDN = d
		}
	}
	return byFQDN, byFQDN != nil
}
