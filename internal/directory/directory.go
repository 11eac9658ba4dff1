// Пакет directory — проверка учётных данных в Active Directory / LDAP
// через simple bind. Используется при недоступности identity server.
package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

// Ошибки проверки в каталоге.
var (
	// ErrInvalidCredentials — каталог отверг пару логин/пароль.
	ErrInvalidCredentials = errors.New("неверные учётные данные каталога")
	// ErrUnavailable — сервер каталога недоступен.
	ErrUnavailable = errors.New("сервер каталога недоступен")
	// ErrTimeout — превышено время ожидания сервера каталога.
	ErrTimeout = errors.New("таймаут сервера каталога")
)

// Binder — проверка пароля пользователя в домене.
type Binder interface {
	// Bind выполняет bind от имени пользователя. Возвращает ErrInvalidCredentials,
	// ErrUnavailable или ErrTimeout для ожидаемых отказов.
	Bind(ctx context.Context, domain *model.ActiveDirectoryDomain, userID, password string) error
}

// Options — параметры подключения к каталогу.
type Options struct {
	Port    int
	UseTLS  bool
	Timeout time.Duration
	// CACertPath — CA для LDAPS; пустой — системный пул доверия
	CACertPath string
}

// LDAPBinder — реализация Binder на go-ldap.
type LDAPBinder struct {
	opts      Options
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// NewLDAPBinder создаёт Binder для Active Directory / LDAP.
func NewLDAPBinder(opts Options, logger *slog.Logger) (*LDAPBinder, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CACertPath != "" {
		caCert, err := os.ReadFile(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", opts.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", opts.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	return &LDAPBinder{
		opts:      opts,
		tlsConfig: tlsConfig,
		logger:    logger.With(slog.String("component", "directory_binder")),
	}, nil
}

// Bind подключается к серверу домена и выполняет simple bind как user@fqdn.
func (b *LDAPBinder) Bind(ctx context.Context, domain *model.ActiveDirectoryDomain, userID, password string) error {
	// Пустой пароль в LDAP — unauthenticated bind, который сервер принимает.
	if password == "" {
		return ErrInvalidCredentials
	}

	timeout := b.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return ErrTimeout
	}

	conn, err := b.dial(domain, timeout)
	if err != nil {
		return classifyError(err)
	}
	defer conn.Close()
	conn.SetTimeout(timeout)

	principal := BindPrincipal(domain, userID)
	if err := conn.Bind(principal, password); err != nil {
		b.logger.Debug("LDAP bind отклонён",
			slog.String("domain", domain.Name),
			slog.String("principal", principal),
			slog.String("error", err.Error()),
		)
		return classifyError(err)
	}
	return nil
}

// dial открывает соединение с сервером домена.
func (b *LDAPBinder) dial(domain *model.ActiveDirectoryDomain, timeout time.Duration) (*ldap.Conn, error) {
	host := domain.Host()
	addr := net.JoinHostPort(host, strconv.Itoa(b.opts.Port))
	dialer := &net.Dialer{Timeout: timeout}

	if b.opts.UseTLS {
		cfg := b.tlsConfig.Clone()
		cfg.ServerName = host
		return ldap.DialURL("ldaps://"+addr, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(cfg))
	}
	return ldap.DialURL("ldap://"+addr, ldap.DialWithDialer(dialer))
}

// BindPrincipal формирует имя для bind: user@fqdn для Active Directory,
// uid=user,dc=... для прочих LDAP-каталогов.
func BindPrincipal(domain *model.ActiveDirectoryDomain, userID string) string {
	if domain.DirectoryType == model.DirectoryTypeLDAP {
		return fmt.Sprintf("uid=%s,%s", ldap.EscapeDN(userID), fqdnToBaseDN(domain.FullyQualifiedName))
	}
	return userID + "@" + domain.FullyQualifiedName
}

// fqdnToBaseDN преобразует corp.example.com в dc=corp,dc=example,dc=com.
func fqdnToBaseDN(fqdn string) string {
	var parts []string
	for _, label := range strings.Split(strings.Trim(fqdn, "."), ".") {
		if label != "" {
			parts = append(parts, "dc="+ldap.EscapeDN(label))
		}
	}
	return strings.Join(parts, ",")
}

// classifyError приводит ошибку go-ldap к ошибкам пакета.
func classifyError(err error) error {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return ErrInvalidCredentials
	}
	if ldap.IsErrorWithCode(err, ldap.LDAPResultTimeout) || ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
