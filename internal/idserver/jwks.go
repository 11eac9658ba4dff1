package idserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
)

// HTTPClient создаёт HTTP-клиент с таймаутом и опциональным CA-сертификатом.
// Пустой caCertPath — системный пул доверия.
func HTTPClient(caCertPath string, timeout time.Duration) (*http.Client, error) {
	if caCertPath == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// NewKeyfunc создаёт keyfunc по JWKS identity server с фоновым обновлением ключей.
// Стартует, даже если identity server ещё недоступен.
func NewKeyfunc(jwksURL string, httpClient *http.Client, refreshInterval time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return k, nil
}

// ReadinessChecker — проверка доступности identity server через JWKS endpoint.
type ReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewReadinessChecker создаёт checker доступности identity server.
func NewReadinessChecker(jwksURL string, client *http.Client) *ReadinessChecker {
	return &ReadinessChecker{jwksURL: jwksURL, client: client}
}

const statusFail = "fail"

// CheckReady проверяет, что JWKS доступен и содержит ключи.
// Недоступность identity server — "degraded": аутентификация продолжает
// работать через локальную проверку.
func (c *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return "degraded", fmt.Sprintf("identity server JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "degraded", fmt.Sprintf("identity server JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("identity server JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "identity server JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
