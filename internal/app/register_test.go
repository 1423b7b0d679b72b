package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/security"
)

type recordingUsers struct {
	upserted []*model.User
	err      error
}

func (r *recordingUsers) Upsert(ctx context.Context, user *model.User) error {
	if r.err != nil {
		return r.err
	}
	r.upserted = append(r.upserted, user)
	return nil
}

type recordingSites struct {
	created []*model.MonitoredSite
}

func (r *recordingSites) Create(ctx context.Context, site *model.MonitoredSite) error {
	r.created = append(r.created, site)
	return nil
}

func newTestRegistrar(t *testing.T) (*siteRegistrar, *recordingUsers, *recordingSites, *security.CredentialVault, *bytes.Buffer) {
	t.Helper()
	vault, err := security.NewCredentialVault("test-encryption-key")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	users, sites := &recordingUsers{}, &recordingSites{}
	r := newSiteRegistrar(users, sites, vault, security.NewSSRFGuard(time.Second), logger)
	r.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return r, users, sites, vault, &buf
}

func validRegistration() SiteRegistration {
	return SiteRegistration{
		UserID:   "123456789012345678",
		URL:      "https://booking.example.com/slots",
		SiteType: model.SiteTypeGovernment,
		Username: "taro",
		Password: "secret-password",
	}
}

func TestSiteRegistrar_Register(t *testing.T) {
	r, users, sites, vault, buf := newTestRegistrar(t)

	site, err := r.Register(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sites.created) != 1 || sites.created[0] != site {
		t.Fatalf("created = %+v", sites.created)
	}
	if site.ID == "" || !site.Active || site.LastChecked != nil {
		t.Errorf("site = %+v", site)
	}
	if site.CheckIntervalMinutes != model.DefaultCheckIntervalMinutes {
		t.Errorf("interval = %d", site.CheckIntervalMinutes)
	}

	// 保存した暗号文はチェック時と同じVaultで復号できる
	creds, err := vault.Decrypt(site.EncryptedCredentials)
	if err != nil {
		t.Fatalf("failed to decrypt stored credentials: %v", err)
	}
	if creds.Username != "taro" || creds.Password != "secret-password" {
		t.Errorf("creds = %+v", creds)
	}

	if len(users.upserted) != 1 {
		t.Fatalf("upserted = %d", len(users.upserted))
	}
	if u := users.upserted[0]; u.ID != site.UserID || u.DisplayName != site.UserID || !u.Preferences.Immediate {
		t.Errorf("user = %+v", u)
	}

	if strings.Contains(buf.String(), "secret-password") {
		t.Error("password must not be logged")
	}
	if !strings.Contains(buf.String(), site.ID) {
		t.Errorf("expected site_id in log, got %s", buf.String())
	}
}

func TestSiteRegistrar_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SiteRegistration)
		target error
	}{
		{"unsupported type", func(reg *SiteRegistration) { reg.SiteType = "calendar" }, model.ErrUnsupportedSiteType},
		{"private address", func(reg *SiteRegistration) { reg.URL = "http://127.0.0.1/admin" }, model.ErrBlockedURL},
		{"bad scheme", func(reg *SiteRegistration) { reg.URL = "file:///etc/passwd" }, model.ErrBlockedURL},
		{"interval too long", func(reg *SiteRegistration) { reg.IntervalMinutes = 90 }, nil},
		{"missing user", func(reg *SiteRegistration) { reg.UserID = "" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, users, sites, _, _ := newTestRegistrar(t)
			reg := validRegistration()
			tt.modify(&reg)

			_, err := r.Register(context.Background(), reg)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
			if len(users.upserted) != 0 || len(sites.created) != 0 {
				t.Error("nothing should be persisted for invalid input")
			}
		})
	}
}

func TestSiteRegistrar_UserFailureStopsBeforeSite(t *testing.T) {
	r, users, sites, _, _ := newTestRegistrar(t)
	users.err = errors.New("connection refused")

	if _, err := r.Register(context.Background(), validRegistration()); err == nil {
		t.Fatal("expected error")
	}
	if len(sites.created) != 0 {
		t.Error("site must not be created when the owner could not be saved")
	}
}

func TestAddSiteCommand_ParsesFlags(t *testing.T) {
	t.Setenv(sitePasswordEnv, "from-env")

	var got SiteRegistration
	cmd := newAddSiteCommand(func(ctx context.Context, reg SiteRegistration) error {
		got = reg
		return nil
	})
	cmd.Writer = &bytes.Buffer{}

	err := cmd.Run(context.Background(), []string{
		"add-site",
		"--user", "123456789012345678",
		"--url", "https://booking.example.com",
		"--type", "government",
		"--username", "taro",
		"--interval", "15",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := SiteRegistration{
		UserID:          "123456789012345678",
		URL:             "https://booking.example.com",
		SiteType:        model.SiteTypeGovernment,
		Username:        "taro",
		Password:        "from-env",
		IntervalMinutes: 15,
	}
	if got != want {
		t.Errorf("registration = %+v, want %+v", got, want)
	}
}

func TestAddSiteCommand_RequiresURL(t *testing.T) {
	called := false
	cmd := newAddSiteCommand(func(ctx context.Context, reg SiteRegistration) error {
		called = true
		return nil
	})
	cmd.Writer = &bytes.Buffer{}
	cmd.ErrWriter = &bytes.Buffer{}

	if err := cmd.Run(context.Background(), []string{"add-site", "--user", "1"}); err == nil {
		t.Error("expected error for missing --url")
	}
	if called {
		t.Error("registration must not run without required flags")
	}
}
