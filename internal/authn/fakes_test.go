package authn

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/meddispense/dispensing-module/internal/cache"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

// fakeIDS возвращает заранее заданный результат и запоминает запросы.
type fakeIDS struct {
	mu     sync.Mutex
	result *model.AuthenticationResult
	err    error
	calls  []model.TokenCredentials
}

func (f *fakeIDS) Authenticate(_ context.Context, creds *model.TokenCredentials) (*model.AuthenticationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *creds)
	if f.err != nil {
		return nil, f.err
	}
	// Копия, чтобы тест мог переиспользовать результат.
	res := *f.result
	return &res, nil
}

// fakeAccounts — in-memory хранилище учётных записей.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*model.AuthUserAccount
	locks    []string
	auths    []uuid.UUID
	notices  []uuid.UUID
}

func newFakeAccounts(accounts ...*model.AuthUserAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[uuid.UUID]*model.AuthUserAccount)}
	for _, a := range accounts {
		f.accounts[a.Key] = a
	}
	return f
}

func (f *fakeAccounts) copyOf(a *model.AuthUserAccount) *model.AuthUserAccount {
	c := *a
	return &c
}

func (f *fakeAccounts) GetByUserID(_ context.Context, userID string, domainKey *uuid.UUID) (*model.AuthUserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if !strings.EqualFold(a.UserID, userID) {
			continue
		}
		switch {
		case a.DomainKey == nil && domainKey == nil:
			return f.copyOf(a), nil
		case a.DomainKey != nil && domainKey != nil && *a.DomainKey == *domainKey:
			return f.copyOf(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) GetByScanCode(_ context.Context, scanCode string) (*model.AuthUserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ScanCode != nil && *a.ScanCode == scanCode {
			return f.copyOf(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) SetLocked(_ context.Context, key uuid.UUID, locked bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[key]
	if !ok {
		return repository.ErrNotFound
	}
	if a.IsLocked == locked {
		return repository.ErrUnchanged
	}
	a.IsLocked = locked
	f.locks = append(f.locks, reason)
	return nil
}

func (f *fakeAccounts) RecordAuthentication(_ context.Context, key uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[key]
	if !ok {
		return repository.ErrNotFound
	}
	a.LastSuccessfulAuth = &at
	f.auths = append(f.auths, key)
	return nil
}

func (f *fakeAccounts) RecordPasswordNotice(_ context.Context, key uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[key]
	if !ok {
		return repository.ErrNotFound
	}
	a.LastPasswordNotice = &at
	f.notices = append(f.notices, key)
	return nil
}

// fakeActivity — журнал активности без событий.
type fakeActivity struct {
	activity map[uuid.UUID]*model.AccountActivity
}

func (f *fakeActivity) Activity(_ context.Context, key uuid.UUID) (*model.AccountActivity, error) {
	if a, ok := f.activity[key]; ok {
		return a, nil
	}
	return &model.AccountActivity{}, nil
}

type fakeDevices map[uuid.UUID]*model.DispensingDevice

func (f fakeDevices) GetByKey(_ context.Context, key uuid.UUID) (*model.DispensingDevice, error) {
	d, ok := f[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

type fakeDomainSource struct {
	domains []model.ActiveDirectoryDomain
	calls   int
}

func (f *fakeDomainSource) List(_ context.Context) ([]model.ActiveDirectoryDomain, error) {
	f.calls++
	return f.domains, nil
}

type fakeSettingsSource struct {
	settings *model.DispensingSystem
}

func (f *fakeSettingsSource) Get(_ context.Context) (*model.DispensingSystem, error) {
	s := *f.settings
	return &s, nil
}

// fakeBinder — bind в каталоге с заданным результатом.
type fakeBinder struct {
	err   error
	calls int
}

func (f *fakeBinder) Bind(_ context.Context, _ *model.ActiveDirectoryDomain, _ string, _ string) error {
	f.calls++
	return f.err
}

func defaultSettings() *model.DispensingSystem {
	return &model.DispensingSystem{
		LockAfterNoAuthenticationDays:   intPtr(30),
		AllowDisconnectedAuthentication: true,
		PasswordExpirationDays:          intPtr(90),
		PasswordWarningDays:             14,
		TemporaryAccountDays:            7,
	}
}

var corpDomain = model.ActiveDirectoryDomain{
	Key:                uuid.MustParse("0b7d4a57-0d3a-4c55-9d0c-4e0e9c1c0001"),
	Name:               "CORP",
	FullyQualifiedName: "corp.example.com",
	DirectoryType:      model.DirectoryTypeActiveDirectory,
	ServerAddress:      "dc1.corp.example.com",
	IsActive:           true,
}

// testEnv — Manager с in-memory зависимостями.
type testEnv struct {
	ids      *fakeIDS
	accounts *fakeAccounts
	activity *fakeActivity
	binder   *fakeBinder
	domains  *fakeDomainSource
	settings *fakeSettingsSource
	manager  *Manager
}

func newTestEnv(t *testing.T, accounts ...*model.AuthUserAccount) *testEnv {
	t.Helper()
	env := &testEnv{
		ids:      &fakeIDS{result: model.Failure(model.ResultNotFound, "identity server недоступен")},
		accounts: newFakeAccounts(accounts...),
		activity: &fakeActivity{activity: map[uuid.UUID]*model.AccountActivity{}},
		binder:   &fakeBinder{},
		domains:  &fakeDomainSource{domains: []model.ActiveDirectoryDomain{corpDomain}},
		settings: &fakeSettingsSource{settings: defaultSettings()},
	}
	now := func() time.Time { return testNow }

	resolver := NewDomainResolver(env.domains,
		cache.NewTTL[string, []model.ActiveDirectoryDomain]("test_domains", 4, time.Minute))
	settings := NewSettingsProvider(env.settings,
		cache.NewTTL[string, *model.DispensingSystem]("test_settings", 4, time.Minute))

	env.manager = NewManager(Config{
		IdentityServer: env.ids,
		Local: &StrategyAuthenticator{
			Database:  NewDatabaseAuthenticator(now),
			Directory: NewDirectoryAuthenticator(env.binder, resolver, now, testLogger()),
		},
		Accounts:     env.accounts,
		Activity:     env.activity,
		Domains:      resolver,
		Settings:     settings,
		ClientID:     "dispensing",
		ClientSecret: "secret",
		Scope:        "openid",
		Now:          now,
	}, testLogger())
	return env
}

// localAccount — учётная запись БД с паролем "s3cret", активная и недавно входившая.
func localAccount(t *testing.T, userID string) *model.AuthUserAccount {
	t.Helper()
	return &model.AuthUserAccount{
		Key:                uuid.New(),
		UserID:             userID,
		FirstName:          "Иван",
		LastName:           "Петров",
		IsActive:           true,
		IsClinicalUser:     true,
		PasswordHash:       hashPassword(t, "s3cret"),
		LastSuccessfulAuth: timePtr(testNow.Add(-48 * time.Hour)),
		CreatedAt:          testNow.Add(-365 * day),
	}
}

// domainAccount — учётная запись домена CORP.
func domainAccount(userID string) *model.AuthUserAccount {
	key := corpDomain.Key
	return &model.AuthUserAccount{
		Key:                uuid.New(),
		UserID:             userID,
		DomainKey:          &key,
		DomainName:         corpDomain.Name,
		IsActive:           true,
		IsClinicalUser:     true,
		LastSuccessfulAuth: timePtr(testNow.Add(-48 * time.Hour)),
		CreatedAt:          testNow.Add(-365 * day),
	}
}
