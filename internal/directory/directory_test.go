package directory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/callout/internal/schedule"
)

const testSchema = `
	CREATE TABLE shift_assignments (
		id INTEGER PRIMARY KEY,
		shift_date TEXT NOT NULL,
		username TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		area TEXT
	);
	CREATE TABLE oncall_users (
		username TEXT PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		phone TEXT,
		department TEXT
	);
`

func testDirectory(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, schedule.DefaultHours()), db
}

func addUser(t *testing.T, db *sql.DB, username, first, last, phone string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO oncall_users (username, first_name, last_name, phone, department) VALUES (?, ?, ?, ?, 'CORE')`,
		username, first, last, phone)
	if err != nil {
		t.Fatal(err)
	}
}

func addShift(t *testing.T, db *sql.DB, date, username, shiftType string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO shift_assignments (shift_date, username, shift_type, area) VALUES (?, ?, ?, 'VAP')`,
		date, username, shiftType)
	if err != nil {
		t.Fatal(err)
	}
}

func TestShiftContact(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()
	date := time.Date(2026, 1, 17, 0, 0, 0, 0, time.Local)

	addUser(t, db, "mlopez", "Maria", "Lopez", "50211223344")
	addShift(t, db, "2026-01-17", "MLOPEZ", "NORMAL")

	contact, ok := s.ShiftContact(ctx, date)
	if !ok {
		t.Fatal("expected a shift contact")
	}
	if contact.FullName != "Maria Lopez" {
		t.Errorf("full name = %q", contact.FullName)
	}
	if contact.Phone != "50211223344" {
		t.Errorf("phone = %q", contact.Phone)
	}
	if !contact.ShiftDate.Equal(date) {
		t.Errorf("shift date = %s", contact.ShiftDate)
	}
}

func TestShiftContactAbsences(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()
	date := time.Date(2026, 1, 17, 0, 0, 0, 0, time.Local)

	// No shift row at all.
	if _, ok := s.ShiftContact(ctx, date); ok {
		t.Error("empty calendar should yield no contact")
	}

	// Exception shift types are not normal coverage.
	addUser(t, db, "jgarcia", "Jorge", "Garcia", "50255667788")
	addShift(t, db, "2026-01-17", "jgarcia", "VACACIONES")
	if _, ok := s.ShiftContact(ctx, date); ok {
		t.Error("non-NORMAL shift should yield no contact")
	}

	// Placeholder phone is as good as no phone.
	addUser(t, db, "pnull", "Pedro", "Nulo", "(null)")
	addShift(t, db, "2026-01-17", "pnull", "NORMAL")
	if _, ok := s.ShiftContact(ctx, date); ok {
		t.Error("placeholder phone should yield no contact")
	}
}

func TestShiftContactFirstRowWins(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()

	addUser(t, db, "first", "Ana", "Primera", "111")
	addUser(t, db, "second", "Beto", "Segundo", "222")
	addShift(t, db, "2026-01-17", "first", "NORMAL")
	addShift(t, db, "2026-01-17", "second", "NORMAL")

	contact, ok := s.ShiftContact(ctx, time.Date(2026, 1, 17, 0, 0, 0, 0, time.Local))
	if !ok {
		t.Fatal("expected a contact")
	}
	if contact.Username != "first" {
		t.Errorf("tie broken to %q, want first row", contact.Username)
	}
}

func TestPhoneByUsername(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()

	addUser(t, db, "mlopez", "Maria", "Lopez", "50211223344")
	addUser(t, db, "blank", "Sin", "Telefono", "  ")

	phone, ok := s.PhoneByUsername(ctx, "MLOPEZ")
	if !ok || phone != "50211223344" {
		t.Errorf("PhoneByUsername(MLOPEZ) = %q, %v", phone, ok)
	}
	if _, ok := s.PhoneByUsername(ctx, "nobody"); ok {
		t.Error("unknown username should not resolve")
	}
	if _, ok := s.PhoneByUsername(ctx, "blank"); ok {
		t.Error("blank phone should not resolve")
	}
	if _, ok := s.PhoneByUsername(ctx, ""); ok {
		t.Error("empty username should not resolve")
	}
}

func TestResolveResponsible(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()

	addUser(t, db, "mlopez", "Maria", "Lopez", "50211223344")
	addShift(t, db, "2026-01-17", "mlopez", "NORMAL")

	// Business hours: caller must use the assignee tag.
	r := s.ResolveResponsible(ctx, time.Date(2026, 1, 13, 10, 0, 0, 0, time.Local), "40008045")
	if !r.UseAssigneeTag {
		t.Error("tuesday 10:00 should route via assignee tag")
	}
	if r.Phone != "" {
		t.Errorf("business-hours phone should be empty, got %q", r.Phone)
	}

	// Saturday: shift contact.
	r = s.ResolveResponsible(ctx, time.Date(2026, 1, 17, 10, 0, 0, 0, time.Local), "40008045")
	if r.UseAssigneeTag {
		t.Error("saturday should not use assignee tag")
	}
	if r.Phone != "50211223344" {
		t.Errorf("saturday phone = %q, want shift contact", r.Phone)
	}
	if r.Contact == nil || r.Contact.Username != "mlopez" {
		t.Error("saturday should carry the shift contact")
	}

	// Sunday has no shift registered: fallback.
	r = s.ResolveResponsible(ctx, time.Date(2026, 1, 18, 10, 0, 0, 0, time.Local), "40008045")
	if r.Phone != "40008045" {
		t.Errorf("uncovered day phone = %q, want fallback", r.Phone)
	}
	if r.Contact != nil {
		t.Error("fallback should carry no contact")
	}
}

// An unreachable store must still produce a callable number.
func TestResolveResponsibleStoreDown(t *testing.T) {
	s, db := testDirectory(t)
	db.Close()

	r := s.ResolveResponsible(context.Background(), time.Date(2026, 1, 17, 10, 0, 0, 0, time.Local), "40008045")
	if r.UseAssigneeTag {
		t.Error("store failure must not flip to tag-based routing")
	}
	if r.Phone != "40008045" {
		t.Errorf("phone = %q, want fallback when store is down", r.Phone)
	}
}

func TestUpcomingShifts(t *testing.T) {
	s, db := testDirectory(t)
	ctx := context.Background()

	addUser(t, db, "mlopez", "Maria", "Lopez", "111")
	addUser(t, db, "jgarcia", "Jorge", "Garcia", "222")
	addShift(t, db, "2026-01-17", "mlopez", "NORMAL")
	addShift(t, db, "2026-01-17", "jgarcia", "NORMAL") // duplicate day, dropped
	addShift(t, db, "2026-01-18", "jgarcia", "NORMAL")
	addShift(t, db, "2026-01-30", "jgarcia", "NORMAL") // outside window

	from := time.Date(2026, 1, 17, 12, 0, 0, 0, time.Local)
	shifts, err := s.UpcomingShifts(ctx, from, 7)
	if err != nil {
		t.Fatalf("UpcomingShifts: %v", err)
	}
	if len(shifts) != 2 {
		t.Fatalf("got %d shifts, want 2", len(shifts))
	}
	if shifts[0].Username != "mlopez" || shifts[1].Username != "jgarcia" {
		t.Errorf("unexpected order: %s, %s", shifts[0].Username, shifts[1].Username)
	}
	if shifts[0].ShiftDate.Format("2006-01-02") != "2026-01-17" {
		t.Errorf("first shift date = %s", shifts[0].ShiftDate.Format("2006-01-02"))
	}
}

func TestRebindDollar(t *testing.T) {
	got := rebindDollar("SELECT a FROM t WHERE x = ? AND y = ?")
	want := "SELECT a FROM t WHERE x = $1 AND y = $2"
	if got != want {
		t.Errorf("rebindDollar = %q, want %q", got, want)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle"}, schedule.DefaultHours()); err == nil {
		t.Error("unknown driver should be rejected")
	}
}
