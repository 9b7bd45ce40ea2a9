package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/events"
	"eyeclinic/internal/model"

	"github.com/mattn/go-sqlite3"
)

var _ booking.Store = (*DB)(nil)

const appointmentColumns = `id, date, start_minute, service, duration_minutes, patient_ref,
	patient_name, patient_phone, patient_email, patient_dob, triage,
	status, source, reminder_handle, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*model.Appointment, error) {
	var (
		a     model.Appointment
		date  string
		start int
	)
	err := row.Scan(&a.ID, &date, &start, &a.Service, &a.DurationMinutes, &a.PatientRef,
		&a.Patient.Name, &a.Patient.Phone, &a.Patient.Email, &a.Patient.DateOfBirth, &a.Patient.Triage,
		&a.Status, &a.Source, &a.ReminderHandle, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.Date, err = model.ParseDate(date); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	a.Start = model.Clock(start)
	return &a, nil
}

func queryAppointments(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any,
) ([]model.Appointment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := scanAppointment(db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// DaySnapshot reads the revision before the rows: a commit landing in between
// leaves a stale revision, which the next conditional write then rejects.
func (db *DB) DaySnapshot(ctx context.Context, date model.Date) (*booking.Snapshot, error) {
	rev, err := revisionOf(ctx, db.DB, date)
	if err != nil {
		return nil, err
	}
	appts, err := queryAppointments(ctx, db.DB,
		`SELECT `+appointmentColumns+` FROM appointments WHERE date = ? ORDER BY start_minute, id`, date.String())
	if err != nil {
		return nil, fmt.Errorf("list day %s: %w", date, err)
	}
	return &booking.Snapshot{Date: date, Appointments: appts, Revision: rev}, nil
}

func (db *DB) ListAppointments(ctx context.Context, from, to model.Date) ([]model.Appointment, error) {
	appts, err := queryAppointments(ctx, db.DB,
		`SELECT `+appointmentColumns+` FROM appointments WHERE date BETWEEN ? AND ? ORDER BY date, start_minute, id`,
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list appointments %s..%s: %w", from, to, err)
	}
	return appts, nil
}

func revisionOf(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, date model.Date,
) (int64, error) {
	var rev int64
	err := q.QueryRowContext(ctx, `SELECT revision FROM day_revisions WHERE date = ?`, date.String()).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision %s: %w", date, err)
	}
	return rev, nil
}

// Commit applies c in one transaction.
func (db *DB) Commit(ctx context.Context, c *booking.Commit) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for date, want := range c.Expect {
		got, err := revisionOf(ctx, tx, date)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: day %s moved from revision %d to %d",
				model.ErrConcurrentModification, date, want, got)
		}
	}

	touched := make(map[model.Date]bool, len(c.Expect)+2)
	for date := range c.Expect {
		touched[date] = true
	}

	var put model.Appointment
	if c.Put != nil {
		put = *c.Put
		prev, err := db.writeAppointment(ctx, tx, &put)
		if err != nil {
			return err
		}
		if prev != nil {
			touched[*prev] = true
		}
		touched[put.Date] = true
	}

	if c.DeleteID != "" {
		var date string
		err := tx.QueryRowContext(ctx, `SELECT date FROM appointments WHERE id = ?`, c.DeleteID).Scan(&date)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, c.DeleteID)
		}
		if err != nil {
			return fmt.Errorf("delete %s: %w", c.DeleteID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, c.DeleteID); err != nil {
			return fmt.Errorf("delete %s: %w", c.DeleteID, err)
		}
		d, err := model.ParseDate(date)
		if err != nil {
			return err
		}
		touched[d] = true
	}

	dates := make([]model.Date, 0, len(touched))
	for date := range touched {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO day_revisions (date, revision) VALUES (?, 1)
			ON CONFLICT(date) DO UPDATE SET revision = revision + 1`, date.String()); err != nil {
			return fmt.Errorf("bump revision %s: %w", date, err)
		}
		dates = append(dates, date)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if c.Put != nil {
		*c.Put = put
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	db.publish(events.Event{Type: events.TypeAppointmentsChanged, Dates: dates})
	return nil
}

// writeAppointment inserts a (Version 0) or replaces the row at a.Version. It
// returns the date the row had before an update.
func (db *DB) writeAppointment(ctx context.Context, tx *sql.Tx, a *model.Appointment) (*model.Date, error) {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	if a.Version == 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			a.ID, a.Date.String(), int(a.Start), a.Service, a.DurationMinutes, a.PatientRef,
			a.Patient.Name, a.Patient.Phone, a.Patient.Email, a.Patient.DateOfBirth, a.Patient.Triage,
			a.Status, a.Source, a.ReminderHandle, a.CreatedAt, a.UpdatedAt)
		if isConstraint(err) {
			return nil, fmt.Errorf("%w: duplicate id %s", model.ErrConcurrentModification, a.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("insert appointment %s: %w", a.ID, err)
		}
		a.Version = 1
		return nil, nil
	}

	var (
		date    string
		version int64
	)
	err := tx.QueryRowContext(ctx, `SELECT date, version FROM appointments WHERE id = ?`, a.ID).Scan(&date, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, a.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("read appointment %s: %w", a.ID, err)
	}
	if version != a.Version {
		return nil, fmt.Errorf("%w: appointment %s version %d, expected %d",
			model.ErrConcurrentModification, a.ID, version, a.Version)
	}
	prev, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE appointments SET
			date = ?, start_minute = ?, service = ?, duration_minutes = ?, patient_ref = ?,
			patient_name = ?, patient_phone = ?, patient_email = ?, patient_dob = ?, triage = ?,
			status = ?, source = ?, reminder_handle = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		a.Date.String(), int(a.Start), a.Service, a.DurationMinutes, a.PatientRef,
		a.Patient.Name, a.Patient.Phone, a.Patient.Email, a.Patient.DateOfBirth, a.Patient.Triage,
		a.Status, a.Source, a.ReminderHandle, a.UpdatedAt, a.ID); err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	a.Version++
	return &prev, nil
}

// MergeAppointment writes non-scheduling fields. The day revision is left
// alone, but subscribers still hear about the change.
func (db *DB) MergeAppointment(ctx context.Context, id string, f model.AppointmentFields) (*model.Appointment, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAppointment(tx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	if f.IfVersion != 0 && a.Version != f.IfVersion {
		return nil, fmt.Errorf("%w: appointment %s version %d, expected %d",
			model.ErrConcurrentModification, id, a.Version, f.IfVersion)
	}

	a.Merge(f)
	a.Version++
	a.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE appointments SET
			patient_ref = ?, patient_name = ?, patient_phone = ?, patient_email = ?, patient_dob = ?,
			triage = ?, status = ?, reminder_handle = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		a.PatientRef, a.Patient.Name, a.Patient.Phone, a.Patient.Email, a.Patient.DateOfBirth,
		a.Patient.Triage, a.Status, a.ReminderHandle, a.Version, a.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("merge appointment %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}

	db.publish(events.Event{Type: events.TypeAppointmentsChanged, Dates: []model.Date{a.Date}})
	return a, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
