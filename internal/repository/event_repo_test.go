package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/k2patel/apcupsd-client/internal/models"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAppendAlert_FillsDefaults(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewEventSQLite(db)

	// EventID and OccurredAt are generated; match by arg count and the
	// fields we control.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ups_alert_events (id, name, condition, message, value, occurred_at)`)).
		WithArgs(sqlmock.AnyArg(), "ups1", models.CondLoadHigh, "load high", 95.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.AppendAlert(testCtx(t), models.AlertEvent{
		UPSName:   "ups1",
		Condition: models.CondLoadHigh,
		Message:   "load high",
		Value:     95.0,
	})
	if err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestAppendAlert_DBError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ups_alert_events`)).
		WillReturnError(errors.New("disk I/O error"))

	err = NewEventSQLite(db).AppendAlert(testCtx(t), models.AlertEvent{UPSName: "ups1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecentAlerts_LimitAndOrder(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	rows := sqlmock.NewRows([]string{"id", "name", "condition", "message", "value", "occurred_at"}).
		AddRow("id-2", "ups1", models.CondBatteryLow, "battery low", 15.0, t2).
		AddRow("id-1", "ups1", models.CondLoadHigh, "load high", 95.0, t1)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM ups_alert_events WHERE name=? ORDER BY occurred_at DESC`)).
		WithArgs("ups1", 2).
		WillReturnRows(rows)

	out, err := NewEventSQLite(db).RecentAlerts(testCtx(t), "ups1", 2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if out[0].EventID != "id-2" || out[0].Condition != models.CondBatteryLow {
		t.Fatalf("newest-first order violated: %+v", out[0])
	}
	if !out[1].OccurredAt.Equal(t1) {
		t.Fatalf("occurred_at = %v", out[1].OccurredAt)
	}
}

func TestAppendTransition(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	at := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ups_transitions (name, kind, detail, occurred_at)`)).
		WithArgs("ups1", "STATUS", "ONBATT", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewEventSQLite(db).AppendTransition(testCtx(t), "ups1", models.Transition{
		OccurredAt: at, Kind: "STATUS", Detail: "ONBATT",
	})
	if err != nil {
		t.Fatalf("AppendTransition: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestCountOnBattery(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	since := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM ups_transitions`)).
		WithArgs("ups1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewEventSQLite(db).CountOnBattery(testCtx(t), "ups1", since)
	if err != nil {
		t.Fatalf("CountOnBattery: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestPruneEvents_DeletesBothTables(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	cutoff := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM ups_alert_events WHERE occurred_at < ?`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM ups_transitions WHERE occurred_at < ?`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	if err := NewEventSQLite(db).PruneEvents(testCtx(t), cutoff); err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}
