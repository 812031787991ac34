package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/google/uuid"
)

// appointmentColumns is the column list shared by every SELECT on appointments.
const appointmentColumns = `id, date, day, time, mode, notes, user_id, created_at`

func newAppointmentID() string {
	return uuid.NewString()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAppointment reads one appointments row selected with appointmentColumns.
func scanAppointment(row rowScanner) (models.PersistedAppointment, error) {
	var a models.PersistedAppointment
	var day, notes sql.NullString
	var mode string
	if err := row.Scan(&a.ID, &a.Date, &day, &a.Time, &mode, &notes, &a.UserID, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Day = day.String
	a.Mode = models.Mode(mode)
	a.Notes = notes.String
	return a, nil
}

// scanAppointments drains rows into a slice.
func scanAppointments(rows *sql.Rows) ([]models.PersistedAppointment, error) {
	defer rows.Close()
	out := []models.PersistedAppointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment failed: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows failed: %w", err)
	}
	return out, nil
}
