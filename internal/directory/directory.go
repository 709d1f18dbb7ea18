// Package directory resolves the currently responsible on-call contact
// from an external relational store holding the rotating shift calendar
// and the user directory. Lookups degrade to "no contact" on any store
// failure; escalation must always end up with some callable number.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/good-yellow-bee/callout/internal/models"
	"github.com/good-yellow-bee/callout/internal/schedule"
)

// phonePlaceholder is the literal some directory rows carry instead of an
// empty phone column.
const phonePlaceholder = "(null)"

// Config holds the directory store connection settings.
type Config struct {
	Driver   string // mysql | postgres
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // postgres only
}

// Store queries the shift-assignment and user tables.
type Store struct {
	cfg    Config
	hours  schedule.Hours
	db     *sql.DB
	rebind func(string) string
}

// New creates a directory store. The connection is opened lazily and
// re-validated per use; it is never assumed valid across poll cycles.
func New(cfg Config, hours schedule.Hours) (*Store, error) {
	rebind, err := rebinder(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, hours: hours, rebind: rebind}, nil
}

// NewWithDB creates a store over an existing database handle. Used by
// tests and by callers that manage the connection themselves.
func NewWithDB(db *sql.DB, hours schedule.Hours) *Store {
	return &Store{db: db, hours: hours, rebind: func(q string) string { return q }}
}

// rebinder returns the placeholder rewriter for the driver's dialect.
func rebinder(driver string) (func(string) string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return func(q string) string { return q }, nil
	case "postgres", "postgresql":
		return rebindDollar, nil
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", driver)
	}
}

// rebindDollar rewrites ? placeholders to $1..$n for postgres.
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dsn builds the driver-specific connection string.
func (c Config) dsn() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, port, c.Database)
	default: // postgres
		port := c.Port
		if port == 0 {
			port = 5432
		}
		sslMode := strings.ToLower(strings.TrimSpace(c.SSLMode))
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.User, c.Password, c.Database, sslMode)
	}
}

// ensure opens the connection if needed and verifies it is alive.
func (s *Store) ensure(ctx context.Context) error {
	if s.db == nil {
		driver := strings.ToLower(s.cfg.Driver)
		if driver == "postgresql" {
			driver = "postgres"
		}
		db, err := sql.Open(driver, s.cfg.dsn())
		if err != nil {
			return fmt.Errorf("open directory store: %w", err)
		}
		db.SetMaxOpenConns(2)
		db.SetConnMaxIdleTime(time.Minute)
		s.db = db
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping directory store: %w", err)
	}
	return nil
}

// Ping verifies connectivity to the directory store.
func (s *Store) Ping(ctx context.Context) error {
	return s.ensure(ctx)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// usablePhone reports whether a phone column value is callable.
func usablePhone(phone string) bool {
	p := strings.TrimSpace(phone)
	return p != "" && p != phonePlaceholder
}

const shiftQuery = `
	SELECT u.first_name, u.last_name, u.phone, u.username, s.area, u.department
	FROM shift_assignments s
	JOIN oncall_users u ON UPPER(s.username) = UPPER(u.username)
	WHERE s.shift_date = ? AND s.shift_type = 'NORMAL' AND u.phone IS NOT NULL
	ORDER BY s.id
	LIMIT 1
`

// ShiftContact looks up the normal-shift contact for a calendar date.
// Absence of a shift row, a blank or placeholder phone, and store failure
// all resolve to no contact. Multiple valid rows for the same day is a
// data-quality condition; the first row by natural ordering wins.
func (s *Store) ShiftContact(ctx context.Context, date time.Time) (*models.Contact, bool) {
	if err := s.ensure(ctx); err != nil {
		log.Printf("[directory] shift lookup unavailable: %v", err)
		return nil, false
	}

	var c models.Contact
	var first, last, area, department sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(shiftQuery), date.Format("2006-01-02")).
		Scan(&first, &last, &c.Phone, &c.Username, &area, &department)
	if err == sql.ErrNoRows {
		log.Printf("[directory] no shift registered for %s", date.Format("2006-01-02"))
		return nil, false
	}
	if err != nil {
		log.Printf("[directory] shift lookup for %s failed: %v", date.Format("2006-01-02"), err)
		return nil, false
	}

	if !usablePhone(c.Phone) {
		log.Printf("[directory] shift contact %s for %s has unusable phone", c.Username, date.Format("2006-01-02"))
		return nil, false
	}

	c.FullName = strings.TrimSpace(first.String + " " + last.String)
	c.Area = area.String
	c.Department = department.String
	c.ShiftDate = date
	return &c, true
}

const phoneQuery = `
	SELECT phone FROM oncall_users
	WHERE UPPER(username) = UPPER(?) AND phone IS NOT NULL
	LIMIT 1
`

// PhoneByUsername resolves a phone number for a responsible-party
// username taken from an incident tag. Missing users, unusable phones,
// and store failures all resolve to not-found.
func (s *Store) PhoneByUsername(ctx context.Context, username string) (string, bool) {
	if username == "" {
		return "", false
	}
	if err := s.ensure(ctx); err != nil {
		log.Printf("[directory] phone lookup unavailable: %v", err)
		return "", false
	}

	var phone string
	err := s.db.QueryRowContext(ctx, s.rebind(phoneQuery), username).Scan(&phone)
	if err == sql.ErrNoRows {
		log.Printf("[directory] no phone on record for %s", username)
		return "", false
	}
	if err != nil {
		log.Printf("[directory] phone lookup for %s failed: %v", username, err)
		return "", false
	}
	if !usablePhone(phone) {
		log.Printf("[directory] phone on record for %s is unusable", username)
		return "", false
	}
	return phone, true
}

// Responsible is the cycle-level routing decision: either "use the
// incident's assignee tag" during business hours, or a concrete number
// off hours.
type Responsible struct {
	// UseAssigneeTag is true during business hours; the caller must
	// resolve the responsible party from the incident's tag instead.
	UseAssigneeTag bool
	// Phone is the number to call off hours: the shift contact's phone
	// when a shift is registered, the configured fallback otherwise.
	Phone string
	// Contact is the resolved shift contact, nil when falling back.
	Contact *models.Contact
}

// ResolveResponsible classifies now and resolves the on-call routing for
// the cycle. It never fails: off hours it always yields a callable
// number, degrading to fallback on any anomaly.
func (s *Store) ResolveResponsible(ctx context.Context, now time.Time, fallback string) Responsible {
	window := schedule.Classify(now, s.hours)
	if window.Business() {
		return Responsible{UseAssigneeTag: true}
	}

	if contact, ok := s.ShiftContact(ctx, window.ShiftDate()); ok {
		log.Printf("[directory] on-call for %s: %s (%s) %s",
			window.ShiftDate().Format("2006-01-02"), contact.FullName, contact.Username, contact.Phone)
		return Responsible{Phone: contact.Phone, Contact: contact}
	}

	log.Printf("[directory] no usable shift contact, using fallback number %s", fallback)
	return Responsible{Phone: fallback}
}

const upcomingQuery = `
	SELECT u.first_name, u.last_name, u.phone, u.username, s.area, s.shift_date
	FROM shift_assignments s
	JOIN oncall_users u ON UPPER(s.username) = UPPER(u.username)
	WHERE s.shift_date >= ? AND s.shift_date < ? AND s.shift_type = 'NORMAL'
		AND u.phone IS NOT NULL
	ORDER BY s.shift_date, s.id
`

// UpcomingShifts returns one contact per day for the next N days, for
// operator inspection. Duplicate rows for a day collapse to the first.
func (s *Store) UpcomingShifts(ctx context.Context, from time.Time, days int) ([]models.Contact, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := start.AddDate(0, 0, days)

	rows, err := s.db.QueryContext(ctx, s.rebind(upcomingQuery),
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("query upcoming shifts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	seen := make(map[string]bool)
	for rows.Next() {
		var c models.Contact
		var first, last, area sql.NullString
		var shiftDate any
		if err := rows.Scan(&first, &last, &c.Phone, &c.Username, &area, &shiftDate); err != nil {
			return nil, fmt.Errorf("scan shift row: %w", err)
		}
		day := normalizeDate(shiftDate)
		if day == "" || seen[day] || !usablePhone(c.Phone) {
			continue
		}
		seen[day] = true
		c.FullName = strings.TrimSpace(first.String + " " + last.String)
		c.Area = area.String
		c.ShiftDate, _ = time.ParseInLocation("2006-01-02", day, from.Location())
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shift rows: %w", err)
	}
	return contacts, nil
}

// normalizeDate reduces a DATE column value to "YYYY-MM-DD". Drivers
// disagree on the scanned type: some return time.Time, others text.
func normalizeDate(v any) string {
	switch d := v.(type) {
	case time.Time:
		return d.Format("2006-01-02")
	case string:
		if len(d) > 10 {
			return d[:10]
		}
		return d
	case []byte:
		return normalizeDate(string(d))
	default:
		return ""
	}
}
