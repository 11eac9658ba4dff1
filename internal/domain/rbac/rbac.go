// Пакет rbac — роль администратора Dispensing Module по ролям realm из JWT
// identity server. Роли realm сопоставляются с двумя уровнями доступа:
// readonly (просмотр учётных записей, доменов, устройств) и admin
// (все операции управления).
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleReadonly = "readonly"
	RoleAdmin    = "admin"
)

var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleAdmin:    2,
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapRealmRoles определяет роль по ролям realm. Совпадение с adminRoles даёт
// admin, с readonlyRoles — readonly. Роли admin/readonly в JWT принимаются
// как есть. Пустая строка — доступа нет.
func MapRealmRoles(realmRoles, adminRoles, readonlyRoles []string) string {
	adminSet := toSet(adminRoles)
	readonlySet := toSet(readonlyRoles)

	var roles []string
	for _, r := range realmRoles {
		switch {
		case adminSet[r]:
			roles = append(roles, RoleAdmin)
		case readonlySet[r]:
			roles = append(roles, RoleReadonly)
		case IsValidRole(r):
			roles = append(roles, r)
		}
	}
	return HighestRole(roles)
}

// Allows сообщает, достаточно ли роли role для операции, требующей required.
func Allows(role, required string) bool {
	return IsValidRole(role) && roleWeight[role] >= roleWeight[required]
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
