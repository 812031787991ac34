package models

import (
	"strings"
	"time"
)

// Layouts used for the slot fields of an appointment.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Mode is the delivery channel of an appointment.
type Mode string

const (
	ModeVirtual    Mode = "virtual"
	ModeTelephonic Mode = "telephonic"
)

// IsValid reports whether m is a supported delivery mode.
func (m Mode) IsValid() bool {
	return m == ModeVirtual || m == ModeTelephonic
}

// Appointment is the working draft accumulated by the dialogue before commit.
// Empty strings stand for fields that are not resolved yet.
type Appointment struct {
	Date   string `json:"date,omitempty"`
	Day    string `json:"day,omitempty"`
	Time   string `json:"time,omitempty"`
	Mode   Mode   `json:"mode,omitempty"`
	Notes  string `json:"notes,omitempty"`
	UserID string `json:"user_id"`
}

// HasSlot reports whether both date and time are known.
func (a Appointment) HasSlot() bool {
	return a.Date != "" && a.Time != ""
}

// ClearSlot forgets the resolved date, weekday and time.
func (a *Appointment) ClearSlot() {
	a.Date = ""
	a.Day = ""
	a.Time = ""
}

// Validate checks that the draft can be committed to a store.
func (a Appointment) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrMissingUserID
	}
	if !a.HasSlot() {
		return ErrMissingSlotInfo
	}
	if !IsValidDate(a.Date) {
		return ErrInvalidDate
	}
	if !IsValidTime(a.Time) {
		return ErrInvalidTime
	}
	if a.Mode != "" && !a.Mode.IsValid() {
		return ErrInvalidMode
	}
	return nil
}

// PersistedAppointment is an appointment record owned by a store.
type PersistedAppointment struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Day       string    `json:"day,omitempty"`
	Time      string    `json:"time"`
	Mode      Mode      `json:"mode"`
	Notes     string    `json:"notes,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SameSlot reports whether the record occupies the given date and time.
func (p PersistedAppointment) SameSlot(date, clock string) bool {
	return p.Date == date && p.Time == clock
}

// IsValidDate reports whether s is a calendar date in YYYY-MM-DD form.
func IsValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// IsValidTime reports whether s is a 24h clock time in HH:MM form.
func IsValidTime(s string) bool {
	if len(s) != len(TimeLayout) {
		return false
	}
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}

// WeekdayOf returns the English weekday name of an ISO date, or "" when invalid.
func WeekdayOf(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return ""
	}
	return t.Weekday().String()
}
