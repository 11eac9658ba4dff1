// Пакет idserver — HTTP-клиент к identity server (OIDC, Keycloak-совместимый).
// Выполняет Resource Owner Password Credentials grant, проверяет подпись
// access token по JWKS, извлекает профиль пользователя из profile claim и
// нормализует HTTP-статусы и ошибки OAuth2 в коды AuthenticationResultCode.
package idserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// maxErrorBody — предел чтения тела ответа с ошибкой.
const maxErrorBody = 64 << 10

// Options — параметры клиента identity server.
type Options struct {
	// BaseURL — базовый URL; пустой — identity server не настроен
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Scope        string
	// Issuer — ожидаемый iss access token; пустой — не проверяется
	Issuer string
	// ProfileClaim — имя claim с сериализованным профилем пользователя
	ProfileClaim string
	// Leeway — допустимое отклонение часов при проверке exp/nbf
	Leeway time.Duration
	// Keyfunc — ключи проверки подписи (JWKS)
	Keyfunc keyfunc.Keyfunc
	// HTTPClient — HTTP-клиент с таймаутом и TLS-настройками
	HTTPClient *http.Client
}

// Client — клиент identity server.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент identity server.
func New(opts Options, logger *slog.Logger) *Client {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.ProfileClaim == "" {
		opts.ProfileClaim = "profile"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		opts:       opts,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "idserver_client")),
	}
}

// Configured сообщает, задан ли URL identity server.
func (c *Client) Configured() bool {
	return c.opts.BaseURL != ""
}

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.opts.BaseURL, c.opts.Realm)
}

// Authenticate проверяет учётные данные пользователя в identity server.
// Ожидаемые исходы (неверный пароль, блокировка, недоступность) возвращаются
// кодом результата. Ошибка — только для непредвиденных ситуаций: отмена
// контекста вызывающим, невалидный токен или профиль в успешном ответе.
func (c *Client) Authenticate(ctx context.Context, creds *model.TokenCredentials) (*model.AuthenticationResult, error) {
	if !c.Configured() {
		observeRequest(model.ResultIdentityServerURLNotConfigured, 0)
		return model.Failure(model.ResultIdentityServerURLNotConfigured, "URL identity server не настроен"), nil
	}

	start := time.Now()
	result, err := c.authenticate(ctx, creds)
	if err != nil {
		observeRequest(model.ResultInternalError, time.Since(start))
		return nil, err
	}
	observeRequest(result.ResultCode, time.Since(start))
	return result, nil
}

func (c *Client) authenticate(ctx context.Context, creds *model.TokenCredentials) (*model.AuthenticationResult, error) {
	resp, err := c.requestToken(ctx, creds)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, fmt.Errorf("запрос к identity server отменён: %w", err)
		}
		code := classifyTransportError(err)
		c.logger.Warn("Identity server недоступен",
			slog.String("user_id", creds.QualifiedUserID()),
			slog.String("result_code", string(code)),
			slog.String("error", err.Error()),
		)
		return model.Failure(code, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return c.handleSuccess(resp)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	code := mapStatus(resp.StatusCode, &errResp)
	reason := errResp.ErrorDescription
	if reason == "" {
		reason = fmt.Sprintf("identity server вернул статус %d", resp.StatusCode)
	}

	c.logger.Debug("Identity server отклонил запрос токена",
		slog.String("user_id", creds.QualifiedUserID()),
		slog.Int("status", resp.StatusCode),
		slog.String("error", errResp.Error),
		slog.String("result_code", string(code)),
	)

	result := model.Failure(code, reason)
	result.ErrorMessage = errResp.Error
	return result, nil
}

// requestToken выполняет Resource Owner Password Credentials grant.
func (c *Client) requestToken(ctx context.Context, creds *model.TokenCredentials) (*http.Response, error) {
	grantType := creds.GrantType
	if grantType == "" {
		grantType = model.GrantTypePassword
	}
	clientID, clientSecret := creds.ClientID, creds.ClientSecret
	if clientID == "" {
		clientID, clientSecret = c.opts.ClientID, c.opts.ClientSecret
	}
	scope := creds.Scope
	if scope == "" {
		scope = c.opts.Scope
	}

	data := url.Values{
		"grant_type":    {grantType},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"username":      {creds.QualifiedUserID()},
		"password":      {creds.Password},
	}
	if scope != "" {
		data.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
}

// handleSuccess проверяет access token и извлекает профиль пользователя.
func (c *Client) handleSuccess(resp *http.Response) (*model.AuthenticationResult, error) {
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование ответа identity server: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("identity server вернул пустой access_token")
	}

	account, err := c.parseProfile(token.AccessToken)
	if err != nil {
		return nil, err
	}

	result := model.Success(account, model.AuthenticatedByIdentityServer)
	result.AccessToken = token.AccessToken
	return result, nil
}

// parseProfile проверяет подпись токена и декодирует profile claim.
func (c *Client) parseProfile(accessToken string) (*model.AuthUserAccount, error) {
	if c.opts.Keyfunc == nil {
		return nil, errors.New("JWKS identity server не настроен")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.opts.Leeway),
	}
	if c.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.opts.Issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(accessToken, claims, c.opts.Keyfunc.Keyfunc, parserOpts...); err != nil {
		return nil, fmt.Errorf("невалидный access token identity server: %w", err)
	}

	raw, ok := claims[c.opts.ProfileClaim]
	if !ok || raw == nil {
		return nil, fmt.Errorf("в access token отсутствует claim %q", c.opts.ProfileClaim)
	}
	return decodeProfile(raw)
}

// decodeProfile декодирует профиль: claim содержит либо JSON-строку,
// либо вложенный объект.
func decodeProfile(raw any) (*model.AuthUserAccount, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("сериализация profile claim: %w", err)
		}
		data = b
	}

	account := &model.AuthUserAccount{}
	if err := json.Unmarshal(data, account); err != nil {
		return nil, fmt.Errorf("декодирование profile claim: %w", err)
	}
	if account.UserID == "" {
		return nil, errors.New("profile claim не содержит user_id")
	}
	return account, nil
}
