package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/directory"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

func webRequest(userID, password string) *Request {
	return &Request{UserID: userID, Password: password}
}

// TestAuthenticate_FallbackToDatabase — при недоступности identity server
// известная учётная запись БД проверяется по хэшу пароля.
func TestAuthenticate_FallbackToDatabase(t *testing.T) {
	for _, code := range []model.AuthenticationResultCode{
		model.ResultNotFound,
		model.ResultIdentityServerURLNotConfigured,
		model.ResultDomainError,
		model.ResultRequestTimedOut,
	} {
		t.Run(string(code), func(t *testing.T) {
			account := localAccount(t, "jsmith")
			env := newTestEnv(t, account)
			env.ids.result = model.Failure(code, "сбой")

			res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if res.ResultCode != model.ResultSuccessful {
				t.Fatalf("ResultCode = %s, ожидался Successful (%s)", res.ResultCode, res.FailureReason)
			}
			if res.AuthenticatedBy != model.AuthenticatedByDatabase {
				t.Errorf("AuthenticatedBy = %s", res.AuthenticatedBy)
			}
			if res.UserAccount == nil || res.UserAccount.Key != account.Key {
				t.Errorf("UserAccount не совпадает с локальной учётной записью")
			}
			if len(env.accounts.auths) != 1 {
				t.Errorf("вход зафиксирован %d раз, ожидался 1", len(env.accounts.auths))
			}
		})
	}
}

// TestAuthenticate_FallbackWrongPassword — локальная проверка с неверным паролем.
func TestAuthenticate_FallbackWrongPassword(t *testing.T) {
	env := newTestEnv(t, localAccount(t, "jsmith"))

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "wrong"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.ResultCode != model.ResultInvalidUserIDOrPassword {
		t.Errorf("ResultCode = %s, ожидался InvalidUserIDOrPassword", res.ResultCode)
	}
	if len(env.accounts.auths) != 0 {
		t.Error("неуспешный вход не должен фиксироваться")
	}
}

// TestAuthenticate_NoFallbackForUnknownAccount — без локальной учётной записи
// возвращается исходный код identity server.
func TestAuthenticate_NoFallbackForUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	env.ids.result = model.Failure(model.ResultRequestTimedOut, "таймаут")

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("ghost", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.ResultCode != model.ResultRequestTimedOut {
		t.Errorf("ResultCode = %s, ожидался RequestTimedOut", res.ResultCode)
	}
}

// TestAuthenticate_DefinitiveFailureNoFallback — окончательные отказы identity
// server не приводят к локальной проверке, даже при верном локальном пароле.
func TestAuthenticate_DefinitiveFailureNoFallback(t *testing.T) {
	for _, code := range []model.AuthenticationResultCode{
		model.ResultInvalidUserIDOrPassword,
		model.ResultAccountLocked,
		model.ResultPasswordExpired,
		model.ResultClientNotAuthorized,
	} {
		t.Run(string(code), func(t *testing.T) {
			env := newTestEnv(t, localAccount(t, "jsmith"))
			env.ids.result = model.Failure(code, "отказ")

			res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if res.ResultCode != code {
				t.Errorf("ResultCode = %s, ожидался %s", res.ResultCode, code)
			}
		})
	}
}

// TestAuthenticate_FallbackDisabledByPolicy — политика запрещает работу без identity server.
func TestAuthenticate_FallbackDisabledByPolicy(t *testing.T) {
	env := newTestEnv(t, localAccount(t, "jsmith"))
	env.settings.settings.AllowDisconnectedAuthentication = false

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.ResultCode != model.ResultNotFound {
		t.Errorf("ResultCode = %s, ожидался NotFound", res.ResultCode)
	}
}

// TestAuthenticate_IdentityServerSuccess — успех identity server; локальная
// запись имеет приоритет над профилем из токена.
func TestAuthenticate_IdentityServerSuccess(t *testing.T) {
	account := localAccount(t, "jsmith")
	env := newTestEnv(t, account)
	profile := &model.AuthUserAccount{UserID: "jsmith", FirstName: "из токена", IsActive: true}
	env.ids.result = model.Success(profile, model.AuthenticatedByIdentityServer)

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("ResultCode = %s", res.ResultCode)
	}
	if res.UserAccount.Key != account.Key {
		t.Error("ожидалась локальная учётная запись")
	}
	if res.AuthenticatedBy != model.AuthenticatedByIdentityServer {
		t.Errorf("AuthenticatedBy = %s", res.AuthenticatedBy)
	}

	call := env.ids.calls[0]
	if call.ClientID != "dispensing" || call.GrantType != model.GrantTypePassword || call.Scope != "openid" {
		t.Errorf("неверные параметры запроса: %+v", call)
	}
}

// TestAuthenticate_IdentityServerOnlyAccount — учётная запись, известная
// только identity server, входит по профилю без записи в БД.
func TestAuthenticate_IdentityServerOnlyAccount(t *testing.T) {
	env := newTestEnv(t)
	profile := &model.AuthUserAccount{UserID: "remote", IsActive: true}
	env.ids.result = model.Success(profile, model.AuthenticatedByIdentityServer)

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("remote", "pw"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Succeeded() || res.UserAccount.UserID != "remote" {
		t.Fatalf("ожидался успех с профилем identity server: %+v", res)
	}
	if len(env.accounts.auths) != 0 {
		t.Error("для неизвестной локально учётной записи вход не фиксируется")
	}
}

// TestAuthenticateUser_SuccessWithoutAccount — успех без учётной записи
// превращается в InternalError.
func TestAuthenticateUser_SuccessWithoutAccount(t *testing.T) {
	env := newTestEnv(t)
	env.ids.result = &model.AuthenticationResult{
		ResultCode:                      model.ResultSuccessful,
		AuthenticatedBy:                 model.AuthenticatedByIdentityServer,
		PasswordExpirationDaysRemaining: model.NoPasswordExpirationNotice,
	}

	creds := &model.TokenCredentials{UserID: "jsmith", Password: "pw"}
	res, err := env.manager.AuthenticateUser(context.Background(), nil, creds)
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if res.ResultCode != model.ResultInternalError {
		t.Errorf("ResultCode = %s, ожидался InternalError", res.ResultCode)
	}
}

// TestAuthenticateUser_LockedAccountNeverPasses — заблокированная учётная
// запись отклоняется даже при успехе identity server.
func TestAuthenticateUser_LockedAccountNeverPasses(t *testing.T) {
	account := localAccount(t, "jsmith")
	account.IsLocked = true
	env := newTestEnv(t, account)
	env.ids.result = model.Success(account, model.AuthenticatedByIdentityServer)

	creds := &model.TokenCredentials{UserID: "jsmith", Password: "s3cret"}
	res, err := env.manager.AuthenticateUser(context.Background(), account, creds)
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if res.ResultCode != model.ResultAccountLocked {
		t.Errorf("ResultCode = %s, ожидался AccountLocked", res.ResultCode)
	}
}

// TestAuthenticate_IdentityServerError — ошибка вызова (отмена контекста)
// возвращается вызывающему.
func TestAuthenticate_IdentityServerError(t *testing.T) {
	env := newTestEnv(t, localAccount(t, "jsmith"))
	env.ids.err = context.Canceled

	_, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено: %v", err)
	}
}

// TestAuthenticate_DomainQualifiedForms — user@short, user@fqdn и SHORT\user
// разрешаются в один домен и одну учётную запись.
func TestAuthenticate_DomainQualifiedForms(t *testing.T) {
	for _, userID := range []string{"jdoe@corp", "jdoe@corp.example.com", `CORP\jdoe`, "jdoe@CORP.EXAMPLE"} {
		t.Run(userID, func(t *testing.T) {
			account := domainAccount("jdoe")
			env := newTestEnv(t, account)

			res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest(userID, "pw"))
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if !res.Succeeded() {
				t.Fatalf("ResultCode = %s (%s)", res.ResultCode, res.FailureReason)
			}
			if res.AuthenticatedBy != model.AuthenticatedByDirectory {
				t.Errorf("AuthenticatedBy = %s", res.AuthenticatedBy)
			}
			if res.UserAccount.Key != account.Key {
				t.Error("разрешена другая учётная запись")
			}
			if env.binder.calls != 1 {
				t.Errorf("bind вызван %d раз", env.binder.calls)
			}
			if got := env.ids.calls[0].QualifiedUserID(); got != "jdoe@corp" {
				t.Errorf("identity server получил user id %q, ожидался jdoe@corp", got)
			}
		})
	}
}

// TestAuthenticate_UnknownDomain — квалификатор без активного домена.
func TestAuthenticate_UnknownDomain(t *testing.T) {
	env := newTestEnv(t, domainAccount("jdoe"))

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jdoe@other", "pw"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.ResultCode != model.ResultInvalidUserIDOrPassword {
		t.Errorf("ResultCode = %s, ожидался InvalidUserIDOrPassword", res.ResultCode)
	}
	if len(env.ids.calls) != 0 {
		t.Error("identity server не должен вызываться")
	}
}

// TestAuthenticate_DirectoryFailures — ошибки bind отображаются в коды результата.
func TestAuthenticate_DirectoryFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.AuthenticationResultCode
	}{
		{"неверный пароль", directory.ErrInvalidCredentials, model.ResultInvalidUserIDOrPassword},
		{"таймаут", directory.ErrTimeout, model.ResultRequestTimedOut},
		{"каталог недоступен", directory.ErrUnavailable, model.ResultDomainError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, domainAccount("jdoe"))
			env.binder.err = tt.err

			res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jdoe@corp", "pw"))
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if res.ResultCode != tt.want {
				t.Errorf("ResultCode = %s, ожидался %s", res.ResultCode, tt.want)
			}
		})
	}
}

// TestAuthenticate_LockedAndInactive — состояние учётной записи проверяется до identity server.
func TestAuthenticate_LockedAndInactive(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *model.AuthUserAccount)
		want   model.AuthenticationResultCode
	}{
		{"заблокирована", func(a *model.AuthUserAccount) { a.IsLocked = true }, model.ResultAccountLocked},
		{"деактивирована", func(a *model.AuthUserAccount) { a.IsActive = false }, model.ResultAccountInactive},
		{"временная истекла", func(a *model.AuthUserAccount) {
			a.IsTemporary = true
			a.TemporaryExpiration = timePtr(testNow.Add(-time.Hour))
		}, model.ResultTemporaryAccountExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := localAccount(t, "jsmith")
			tt.mutate(account)
			env := newTestEnv(t, account)
			env.ids.result = model.Success(account, model.AuthenticatedByIdentityServer)

			res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if res.ResultCode != tt.want {
				t.Errorf("ResultCode = %s, ожидался %s", res.ResultCode, tt.want)
			}
		})
	}
}

// TestAuthenticate_PasswordExpired — локальная проверка с истёкшим паролем.
func TestAuthenticate_PasswordExpired(t *testing.T) {
	account := localAccount(t, "jsmith")
	account.PasswordExpiration = timePtr(testNow.Add(-time.Minute))
	env := newTestEnv(t, account)

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.ResultCode != model.ResultPasswordExpired {
		t.Errorf("ResultCode = %s, ожидался PasswordExpired", res.ResultCode)
	}
}

// TestAuthenticate_PasswordNotice — уведомление показывается и фиксируется
// один раз за интервал.
func TestAuthenticate_PasswordNotice(t *testing.T) {
	account := localAccount(t, "jsmith")
	account.PasswordExpiration = timePtr(testNow.Add(3*day - time.Hour))
	env := newTestEnv(t, account)

	res, err := env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.PasswordExpirationDaysRemaining != 3 {
		t.Errorf("PasswordExpirationDaysRemaining = %d, ожидалось 3", res.PasswordExpirationDaysRemaining)
	}
	if len(env.accounts.notices) != 1 {
		t.Fatalf("уведомление зафиксировано %d раз, ожидалось 1", len(env.accounts.notices))
	}

	// Повторный вход в течение суток: уведомление не показывается.
	res, err = env.manager.Authenticate(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.PasswordExpirationDaysRemaining != model.NoPasswordExpirationNotice {
		t.Errorf("PasswordExpirationDaysRemaining = %d, уведомление не должно повторяться", res.PasswordExpirationDaysRemaining)
	}
	if len(env.accounts.notices) != 1 {
		t.Errorf("уведомление зафиксировано повторно")
	}
}

// TestVerifyUser_NoPasswordNotice — подтверждение личности не показывает
// и не фиксирует уведомление, но фиксирует вход.
func TestVerifyUser_NoPasswordNotice(t *testing.T) {
	account := localAccount(t, "jsmith")
	account.PasswordExpiration = timePtr(testNow.Add(2 * day))
	env := newTestEnv(t, account)

	res, err := env.manager.VerifyUser(context.Background(), WebChannel(true), webRequest("jsmith", "s3cret"))
	if err != nil {
		t.Fatalf("VerifyUser: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("ResultCode = %s", res.ResultCode)
	}
	if res.PasswordExpirationDaysRemaining != model.NoPasswordExpirationNotice {
		t.Errorf("PasswordExpirationDaysRemaining = %d", res.PasswordExpirationDaysRemaining)
	}
	if len(env.accounts.notices) != 0 {
		t.Error("уведомление не должно фиксироваться при подтверждении")
	}
	if len(env.accounts.auths) != 1 {
		t.Error("подтверждение должно фиксировать вход")
	}
}

// TestAuthenticate_ScanCode — вход по коду бейджа.
func TestAuthenticate_ScanCode(t *testing.T) {
	account := domainAccount("jdoe")
	code := "BADGE-0042"
	account.ScanCode = &code
	deviceKey := uuid.New()
	devices := fakeDevices{deviceKey: {Key: deviceKey, Name: "ШКАФ-1"}}
	env := newTestEnv(t, account)

	t.Run("успех", func(t *testing.T) {
		req := &Request{ScanCode: code, Password: "pw", DeviceKey: &deviceKey}
		res, err := env.manager.Authenticate(context.Background(), DeviceChannel(devices), req)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !res.Succeeded() || res.UserAccount.Key != account.Key {
			t.Fatalf("ожидался успешный вход по бейджу: %s", res.ResultCode)
		}
		if got := env.ids.calls[len(env.ids.calls)-1].QualifiedUserID(); got != "jdoe@corp" {
			t.Errorf("identity server получил user id %q", got)
		}
	})

	t.Run("неизвестный код", func(t *testing.T) {
		req := &Request{ScanCode: "UNKNOWN", Password: "pw", DeviceKey: &deviceKey}
		res, err := env.manager.Authenticate(context.Background(), DeviceChannel(devices), req)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if res.ResultCode != model.ResultInvalidScanCode {
			t.Errorf("ResultCode = %s, ожидался InvalidScanCode", res.ResultCode)
		}
	})

	t.Run("веб не принимает код", func(t *testing.T) {
		res, err := env.manager.Authenticate(context.Background(), WebChannel(true), &Request{ScanCode: code, Password: "pw"})
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if res.ResultCode != model.ResultInvalidScanCode {
			t.Errorf("ResultCode = %s, ожидался InvalidScanCode", res.ResultCode)
		}
	})
}
