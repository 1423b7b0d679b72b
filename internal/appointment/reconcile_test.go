package appointment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
)

type reconcileFixture struct {
	repo     *memAppointmentRepo
	users    *mockUserRepo
	notifier *recordingNotifier
	logBuf   *bytes.Buffer
	r        *Reconciler
	site     *model.MonitoredSite
}

func newReconcileFixture(prefs model.NotificationPreferences) *reconcileFixture {
	f := &reconcileFixture{
		repo: newMemAppointmentRepo(),
		users: &mockUserRepo{users: map[string]*model.User{
			"user-1": {ID: "user-1", Preferences: prefs, Active: true},
		}},
		notifier: &recordingNotifier{},
		logBuf:   &bytes.Buffer{},
		site:     &model.MonitoredSite{ID: "site-1", UserID: "user-1"},
	}
	logger := newTestLogger(f.logBuf)
	f.r = NewReconciler(f.repo, f.users, NewDateNormalizer(logger, nil), f.notifier, logger)
	return f
}

func TestReconcile_NewSlots_CreatedAndNotifiedOnce(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	slots := []model.Slot{
		{Date: "03/15/2025", Time: "10:00", Details: "Room A"},
		{Date: "03/16/2025", Time: "11:00"},
	}

	created, err := f.r.Reconcile(context.Background(), f.site, slots, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("通知回数 = %d, want 1", len(f.notifier.calls))
	}
	if len(f.notifier.calls[0]) != 2 {
		t.Errorf("通知対象 = %d, want 2", len(f.notifier.calls[0]))
	}

	first := created[0]
	if !first.IsAvailable || first.Notified {
		t.Errorf("新規レコードは is_available=true, notified=false であるべき: %+v", first)
	}
	if first.Details.OriginalText != "03/15/2025" || first.Details.Time != "10:00" || first.Details.Details != "Room A" {
		t.Errorf("details = %+v", first.Details)
	}
}

// 同じ日付の異なる表記は1件に集約され、2回目のチェックでは何も作成・通知されない。
func TestReconcile_Dedup_AcrossFormsAndRuns(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	created, err := f.r.Reconcile(context.Background(), f.site, []model.Slot{
		{Date: "03/15/2025"},
		{Date: "2025-03-15"},
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	if f.repo.len() != 1 {
		t.Errorf("保存件数 = %d, want 1", f.repo.len())
	}

	created, err = f.r.Reconcile(context.Background(), f.site, []model.Slot{{Date: "03-15-2025"}}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("2回目の新規件数 = %d, want 0", len(created))
	}
	if len(f.notifier.calls) != 1 {
		t.Errorf("通知回数 = %d, want 1", len(f.notifier.calls))
	}
}

func TestReconcile_NoSlots_NoNotification(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())

	created, err := f.r.Reconcile(context.Background(), f.site, nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != nil {
		t.Errorf("created = %v, want nil", created)
	}
	if len(f.notifier.calls) != 0 {
		t.Errorf("新規0件で通知された: %d", len(f.notifier.calls))
	}
}

func TestReconcile_ImmediateDisabled_NoNotification(t *testing.T) {
	f := newReconcileFixture(model.NotificationPreferences{Immediate: false, DailySummary: true})

	created, err := f.r.Reconcile(context.Background(), f.site, []model.Slot{{Date: "03/15/2025"}}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	if len(f.notifier.calls) != 0 {
		t.Errorf("即時通知が無効なのに通知された: %d", len(f.notifier.calls))
	}
}

func TestReconcile_UnknownOwner_LogsAndSkipsNotification(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())
	f.site.UserID = "ghost"

	created, err := f.r.Reconcile(context.Background(), f.site, []model.Slot{{Date: "03/15/2025"}}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("created = %d, want 1", len(created))
	}
	if len(f.notifier.calls) != 0 {
		t.Error("存在しないユーザーに通知された")
	}
	if !strings.Contains(f.logBuf.String(), "通知先ユーザーが存在しません") {
		t.Errorf("警告ログが出力されていない: %s", f.logBuf.String())
	}
}

// 通知の失敗はReconcileのエラーにはならず、レコードは未通知のまま残る。
func TestReconcile_NotifyFailure_IsSwallowed(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())
	f.notifier.err = errors.New("discord unavailable")

	created, err := f.r.Reconcile(context.Background(), f.site, []model.Slot{{Date: "03/15/2025"}}, time.Now())
	if err != nil {
		t.Fatalf("通知失敗がエラーとして返された: %v", err)
	}
	if len(created) != 1 || created[0].Notified {
		t.Errorf("未通知のまま1件保存されるべき: %+v", created)
	}
	if !strings.Contains(f.logBuf.String(), "discord unavailable") {
		t.Errorf("エラーログが出力されていない: %s", f.logBuf.String())
	}
}

func TestReconcile_PersistenceError_ReturnsError(t *testing.T) {
	f := newReconcileFixture(model.DefaultNotificationPreferences())
	f.repo.failOn = 2

	created, err := f.r.Reconcile(context.Background(), f.site, []model.Slot{
		{Date: "03/15/2025"},
		{Date: "03/16/2025"},
	}, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(created) != 1 {
		t.Errorf("失敗前に作成された件数 = %d, want 1", len(created))
	}
	if len(f.notifier.calls) != 0 {
		t.Error("永続化エラー時に通知された")
	}
}
