package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newPostgresStoreWithDB(db, fixedClock()), mock
}

func TestPostgresBookAppointment(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(appointmentsLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("2025-10-24", "15:00").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO appointments`).
		WithArgs(sqlmock.AnyArg(), "2025-10-24", "Friday", "15:00", "virtual", nil, "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec, err := s.BookAppointment(context.Background(), draft("u1", "2025-10-24", "15:00", models.ModeVirtual))
	if err != nil {
		t.Fatalf("BookAppointment failed: %v", err)
	}
	if rec.ID == "" || rec.Day != "Friday" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresBookAppointmentSlotTaken(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("2025-10-24", "15:00").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.BookAppointment(context.Background(), draft("u2", "2025-10-24", "15:00", ""))
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateLatestForUser(t *testing.T) {
	s, mock := newMockPostgres(t)
	created := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, date, day, time, mode, notes, user_id, created_at FROM appointments WHERE user_id = \$1 ORDER BY seq DESC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "day", "time", "mode", "notes", "user_id", "created_at"}).
			AddRow("a-1", "2025-10-24", "Friday", "14:00", "virtual", nil, "u1", created))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM appointments WHERE date = \$1 AND time = \$2 AND id <> \$3\)`).
		WithArgs("2025-10-27", "10:00", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE appointments SET`).
		WithArgs("2025-10-27", "Monday", "10:00", "telephonic", nil, "a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := s.UpdateLatestForUser(context.Background(), "u1", func(a *models.PersistedAppointment) {
		a.Date, a.Day, a.Time, a.Mode = "2025-10-27", "Monday", "10:00", models.ModeTelephonic
	})
	if err != nil || updated == nil {
		t.Fatalf("UpdateLatestForUser failed: %v %v", updated, err)
	}
	if updated.ID != "a-1" || !updated.CreatedAt.Equal(created) {
		t.Errorf("identity fields must survive the update: %+v", updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateLatestForUserSlotTaken(t *testing.T) {
	s, mock := newMockPostgres(t)
	created := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, date`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "day", "time", "mode", "notes", "user_id", "created_at"}).
			AddRow("a-1", "2025-10-24", "Friday", "14:00", "virtual", nil, "u1", created))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("2025-10-27", "10:00", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	updated, err := s.UpdateLatestForUser(context.Background(), "u1", func(a *models.PersistedAppointment) {
		a.Date, a.Day, a.Time = "2025-10-27", "Monday", "10:00"
	})
	if !errors.Is(err, ErrSlotTaken) || updated != nil {
		t.Errorf("expected ErrSlotTaken, got %v %v", updated, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateLatestForUserNone(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, date`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "day", "time", "mode", "notes", "user_id", "created_at"}))
	mock.ExpectRollback()

	updated, err := s.UpdateLatestForUser(context.Background(), "ghost", func(*models.PersistedAppointment) {})
	if err != nil || updated != nil {
		t.Errorf("expected nil result, got %v %v", updated, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresDeleteLatestForUser(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM appointments WHERE seq`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM appointments WHERE seq`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM appointments WHERE seq`).WithArgs("u1").WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	if deleted, err := s.DeleteLatestForUser(ctx, "u1"); err != nil || !deleted {
		t.Errorf("expected deletion, got %v %v", deleted, err)
	}
	if deleted, err := s.DeleteLatestForUser(ctx, "u1"); err != nil || deleted {
		t.Errorf("expected nothing deleted, got %v %v", deleted, err)
	}
	if _, err := s.DeleteLatestForUser(ctx, "u1"); err == nil {
		t.Error("expected driver error to propagate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresFindConflictsAndSlot(t *testing.T) {
	s, mock := newMockPostgres(t)
	created := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("2025-10-24", "14:00").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM appointments WHERE user_id = \$1 AND date = \$2 AND time = \$3`).
		WithArgs("u1", "2025-10-24", "14:00").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "day", "time", "mode", "notes", "user_id", "created_at"}).
			AddRow("a-1", "2025-10-24", "Friday", "14:00", "virtual", "window seat", "u1", created))

	ctx := context.Background()
	taken, err := s.HasTimeSlotTaken(ctx, "2025-10-24", "14:00")
	if err != nil || !taken {
		t.Errorf("expected slot taken, got %v %v", taken, err)
	}
	conflicts, err := s.FindConflicts(ctx, "2025-10-24", "14:00", "u1")
	if err != nil || len(conflicts) != 1 || conflicts[0].Notes != "window seat" {
		t.Errorf("unexpected conflicts: %+v %v", conflicts, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSessions(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO conversation_sessions`).WithArgs("s1", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT state_data FROM conversation_sessions`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}).AddRow([]byte(`{}`)))
	mock.ExpectQuery(`SELECT state_data FROM conversation_sessions`).WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"state_data"}))

	ctx := context.Background()
	if err := s.SaveSession(ctx, "s1", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	data, err := s.LoadSession(ctx, "s1")
	if err != nil || string(data) != `{}` {
		t.Errorf("unexpected session data %q %v", data, err)
	}
	data, err = s.LoadSession(ctx, "s2")
	if err != nil || data != nil {
		t.Errorf("expected nil for missing session, got %q %v", data, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresPurgeInbound(t *testing.T) {
	s, mock := newMockPostgres(t)
	cutoff := time.Date(2025, 10, 16, 3, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM inbound_dedup WHERE received_at < \$1`).WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM inbound_dedup`).WithArgs(cutoff).
		WillReturnError(errors.New("connection reset"))

	n, err := s.PurgeInbound(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Errorf("expected 4 purged, got %d %v", n, err)
	}
	if _, err := s.PurgeInbound(context.Background(), cutoff); err == nil {
		t.Error("expected error from failed delete")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
