package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/meddispense/dispensing-module/internal/authn"
	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// fakeAccountRepo — in-memory repository.UserAccountRepository.
type fakeAccountRepo struct {
	accounts map[uuid.UUID]*model.AuthUserAccount
	events   []model.UserAccountEventType
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[uuid.UUID]*model.AuthUserAccount)}
}

func (f *fakeAccountRepo) Create(_ context.Context, a *model.AuthUserAccount) error {
	for _, existing := range f.accounts {
		if a.ScanCode != nil && existing.ScanCode != nil && *a.ScanCode == *existing.ScanCode {
			return repository.ErrConflict
		}
	}
	if a.Key == uuid.Nil {
		a.Key = uuid.New()
	}
	a.CreatedAt = testNow
	c := *a
	f.accounts[a.Key] = &c
	return nil
}

func (f *fakeAccountRepo) GetByKey(_ context.Context, key uuid.UUID) (*model.AuthUserAccount, error) {
	a, ok := f.accounts[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAccountRepo) GetByUserID(_ context.Context, userID string, domainKey *uuid.UUID) (*model.AuthUserAccount, error) {
	for _, a := range f.accounts {
		if !strings.EqualFold(a.UserID, userID) {
			continue
		}
		if (a.DomainKey == nil && domainKey == nil) ||
			(a.DomainKey != nil && domainKey != nil && *a.DomainKey == *domainKey) {
			c := *a
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepo) GetByScanCode(_ context.Context, _ string) (*model.AuthUserAccount, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepo) List(_ context.Context, _ repository.UserAccountFilter) ([]*model.AuthUserAccount, error) {
	out := make([]*model.AuthUserAccount, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccountRepo) Count(_ context.Context, _ repository.UserAccountFilter) (int, error) {
	return len(f.accounts), nil
}

func (f *fakeAccountRepo) update(key uuid.UUID, event model.UserAccountEventType, apply func(a *model.AuthUserAccount)) error {
	a, ok := f.accounts[key]
	if !ok {
		return repository.ErrNotFound
	}
	apply(a)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAccountRepo) SetLocked(_ context.Context, key uuid.UUID, locked bool, _ string) error {
	event := model.EventUnlocked
	if locked {
		event = model.EventLocked
	}
	return f.update(key, event, func(a *model.AuthUserAccount) { a.IsLocked = locked })
}

func (f *fakeAccountRepo) SetActive(_ context.Context, key uuid.UUID, active bool) error {
	if active {
		return f.update(key, model.EventUndeleted, func(a *model.AuthUserAccount) {
			a.IsActive = true
			a.IsLocked = false
		})
	}
	return f.update(key, model.EventDeactivated, func(a *model.AuthUserAccount) { a.IsActive = false })
}

func (f *fakeAccountRepo) RecordAuthentication(_ context.Context, key uuid.UUID, at time.Time) error {
	return f.update(key, model.EventAuthenticated, func(a *model.AuthUserAccount) { a.LastSuccessfulAuth = &at })
}

func (f *fakeAccountRepo) RecordPasswordNotice(_ context.Context, key uuid.UUID, at time.Time) error {
	a, ok := f.accounts[key]
	if !ok {
		return repository.ErrNotFound
	}
	a.LastPasswordNotice = &at
	return nil
}

func (f *fakeAccountRepo) SetPassword(_ context.Context, key uuid.UUID, hash string, changedAt time.Time, expiresAt *time.Time) error {
	return f.update(key, model.EventPasswordChanged, func(a *model.AuthUserAccount) {
		a.PasswordHash = hash
		a.LastPasswordChange = &changedAt
		a.PasswordExpiration = expiresAt
		a.LastPasswordNotice = nil
	})
}

// fakeEventRepo — журнал событий.
type fakeEventRepo struct {
	events []*model.UserAccountEvent
}

func (f *fakeEventRepo) Activity(_ context.Context, _ uuid.UUID) (*model.AccountActivity, error) {
	return &model.AccountActivity{}, nil
}

func (f *fakeEventRepo) ListByAccount(_ context.Context, key uuid.UUID, limit int) ([]*model.UserAccountEvent, error) {
	var out []*model.UserAccountEvent
	for _, e := range f.events {
		if e.UserAccountKey == key && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeDomainRepo — домены AD.
type fakeDomainRepo struct {
	domains []model.ActiveDirectoryDomain
}

func (f *fakeDomainRepo) Create(_ context.Context, d *model.ActiveDirectoryDomain) error {
	for _, existing := range f.domains {
		if strings.EqualFold(existing.Name, d.Name) {
			return repository.ErrConflict
		}
	}
	if d.Key == uuid.Nil {
		d.Key = uuid.New()
	}
	if d.DirectoryType == "" {
		d.DirectoryType = model.DirectoryTypeActiveDirectory
	}
	f.domains = append(f.domains, *d)
	return nil
}

func (f *fakeDomainRepo) GetByKey(_ context.Context, key uuid.UUID) (*model.ActiveDirectoryDomain, error) {
	for i := range f.domains {
		if f.domains[i].Key == key {
			d := f.domains[i]
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDomainRepo) List(_ context.Context) ([]model.ActiveDirectoryDomain, error) {
	return f.domains, nil
}

// fakeSystemRepo — политики системы.
type fakeSystemRepo struct {
	settings model.DispensingSystem
}

func (f *fakeSystemRepo) Get(_ context.Context) (*model.DispensingSystem, error) {
	s := f.settings
	return &s, nil
}

func (f *fakeSystemRepo) Update(_ context.Context, s *model.DispensingSystem) error {
	f.settings = *s
	return nil
}

// fakeDeviceRepo — устройства выдачи.
type fakeDeviceRepo struct {
	devices map[uuid.UUID]*model.DispensingDevice
}

func (f *fakeDeviceRepo) Create(_ context.Context, d *model.DispensingDevice) error {
	for _, existing := range f.devices {
		if existing.Name == d.Name {
			return repository.ErrConflict
		}
	}
	if d.Key == uuid.Nil {
		d.Key = uuid.New()
	}
	c := *d
	f.devices[d.Key] = &c
	return nil
}

func (f *fakeDeviceRepo) GetByKey(_ context.Context, key uuid.UUID) (*model.DispensingDevice, error) {
	d, ok := f.devices[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (f *fakeDeviceRepo) List(_ context.Context) ([]*model.DispensingDevice, error) {
	out := make([]*model.DispensingDevice, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDeviceRepo) SetOutOfService(_ context.Context, key uuid.UUID, outOfService bool, reason string) error {
	d, ok := f.devices[key]
	if !ok {
		return repository.ErrNotFound
	}
	d.IsOutOfService = outOfService
	d.OutOfServiceReason = reason
	if !outOfService {
		d.OutOfServiceReason = ""
	}
	return nil
}

// fakeInvalidator считает сбросы кэша.
type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate() { f.calls++ }

// fakeAuthenticator запоминает канал и запрос.
type fakeAuthenticator struct {
	channel string
	mode    string
	req     *authn.Request
	result  *model.AuthenticationResult
	err     error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, ch authn.Channel, req *authn.Request) (*model.AuthenticationResult, error) {
	f.channel, f.mode, f.req = ch.Name, "authenticate", req
	return f.result, f.err
}

func (f *fakeAuthenticator) VerifyUser(_ context.Context, ch authn.Channel, req *authn.Request) (*model.AuthenticationResult, error) {
	f.channel, f.mode, f.req = ch.Name, "verify", req
	return f.result, f.err
}

// staticSettings — SettingsGetter без кэша.
type staticSettings struct {
	settings *model.DispensingSystem
}

func (s staticSettings) Get(_ context.Context) (*model.DispensingSystem, error) {
	return s.settings, nil
}

var corpDomain = model.ActiveDirectoryDomain{
	Key:                uuid.MustParse("0b7d4a57-0d3a-4c55-9d0c-4e0e9c1c0001"),
	Name:               "CORP",
	FullyQualifiedName: "corp.example.com",
	DirectoryType:      model.DirectoryTypeActiveDirectory,
	IsActive:           true,
}
