// auth.go — JWT middleware для API управления Dispensing Module.
// Проверяет подпись токена identity server по JWKS, извлекает роли realm
// и маппит их в роль admin/readonly.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/meddispense/dispensing-module/internal/api/errors"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/rbac"
)

type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// AuthClaims — claims администратора, помещаемые в контекст запроса.
type AuthClaims struct {
	// Subject — sub из JWT.
	Subject string
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Roles — роли из realm_access.roles.
	Roles []string
	// Role — роль Dispensing Module (admin, readonly, "").
	Role string
}

// Actor возвращает имя администратора для журналов.
func (c *AuthClaims) Actor() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject
}

// idsClaims — raw claims токена identity server.
type idsClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware JWT-аутентификации администраторов.
type JWTAuth struct {
	jwks          keyfunc.Keyfunc
	issuer        string
	leeway        time.Duration
	adminRoles    []string
	readonlyRoles []string
	logger        *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// kf — ключи JWKS identity server (idserver.NewKeyfunc).
// issuer — ожидаемый issuer; пусто — не проверяется.
// adminRoles, readonlyRoles — роли realm, дающие доступ admin и readonly.
func NewJWTAuth(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, adminRoles, readonlyRoles []string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:          kf,
		issuer:        issuer,
		leeway:        leeway,
		adminRoles:    adminRoles,
		readonlyRoles: readonlyRoles,
		logger:        logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), вычисляет роль
// и помещает AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			raw := &idsClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(parts[1], raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims := &AuthClaims{
				Subject:           raw.Subject,
				PreferredUsername: raw.PreferredUsername,
			}
			if raw.RealmAccess != nil {
				claims.Roles = raw.RealmAccess.Roles
			}
			claims.Role = rbac.MapRealmRoles(claims.Roles, j.adminRoles, j.readonlyRoles)

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole возвращает middleware, требующий роль не ниже required.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !rbac.Allows(claims.Role, required) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleByMethod — readonly для GET/HEAD, admin для остальных методов.
func RequireRoleByMethod() func(http.Handler) http.Handler {
	readonly := RequireRole(rbac.RoleReadonly)
	admin := RequireRole(rbac.RoleAdmin)
	return func(next http.Handler) http.Handler {
		ro, rw := readonly(next), admin(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				ro.ServeHTTP(w, r)
				return
			}
			rw.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// ActorFromContext возвращает имя администратора из контекста или "system".
func ActorFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Actor()
	}
	return "system"
}
