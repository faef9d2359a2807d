package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/fedbroker/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements engine.OrderStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ engine.OrderStore = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != memoryPath {
		dsn = "file:" + dsn + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Persist inserts or updates an order. The deactivated flag is left untouched.
func (s *SQLiteStore) Persist(ctx context.Context, order engine.OrderSnapshot) error {
	payload := []byte("{}")
	if order.Payload != nil {
		b, err := json.Marshal(order.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = b
	}

	query := `
		INSERT INTO orders (
			id, resource_type, requesting_member, providing_member,
			user_id, user_name, identity_provider, user_token,
			state, instance_id, cached_instance_state, payload,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			instance_id = excluded.instance_id,
			cached_instance_state = excluded.cached_instance_state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		order.ID,
		order.ResourceType,
		order.RequestingMember,
		order.ProvidingMember,
		order.User.ID,
		order.User.Name,
		order.User.IdentityProvider,
		order.UserToken,
		order.State,
		order.InstanceID,
		order.CachedInstanceState,
		string(payload),
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}

	return nil
}

// Exists reports whether an order with the id was ever persisted.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	return true, nil
}

const orderColumns = `
	id, resource_type, requesting_member, providing_member,
	user_id, user_name, identity_provider, user_token,
	state, instance_id, cached_instance_state, payload,
	deactivated, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*OrderRecord, error) {
	var (
		rec     OrderRecord
		o       = &rec.Order
		payload string
	)
	err := row.Scan(
		&o.ID,
		&o.ResourceType,
		&o.RequestingMember,
		&o.ProvidingMember,
		&o.User.ID,
		&o.User.Name,
		&o.User.IdentityProvider,
		&o.UserToken,
		&o.State,
		&o.InstanceID,
		&o.CachedInstanceState,
		&payload,
		&rec.Deactivated,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p, err := engine.DecodePayload(o.ResourceType, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of order %s: %w", o.ID, err)
	}
	o.Payload = p
	return &rec, nil
}

// GetOrder retrieves an order by id, including deactivated ones.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	rec, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, engine.NewInstanceNotFoundError("order not found", nil).WithOrder(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return rec, nil
}

// FindByState returns every non-deactivated order in the state, oldest first.
func (s *SQLiteStore) FindByState(ctx context.Context, state engine.OrderState) ([]engine.OrderSnapshot, error) {
	recs, err := s.ListOrders(ctx, OrderFilter{State: state})
	if err != nil {
		return nil, err
	}
	out := make([]engine.OrderSnapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Order)
	}
	return out, nil
}

// ListOrders lists orders matching the filter, oldest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, f OrderFilter) ([]*OrderRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.ProvidingMember != "" {
		where = append(where, "providing_member = ?")
		args = append(args, f.ProvidingMember)
	}
	if f.RequestingMember != "" {
		where = append(where, "requesting_member = ?")
		args = append(args, f.RequestingMember)
	}
	if !f.IncludeDeactivated {
		where = append(where, "deactivated = 0")
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	recs := []*OrderRecord{}
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return recs, nil
}

// AppendStateChange records a transition in the audit trail.
func (s *SQLiteStore) AppendStateChange(ctx context.Context, change engine.StateChange) error {
	query := `
		INSERT INTO order_state_changes (order_id, from_state, to_state, changed_at)
		VALUES (?, ?, ?, ?)
	`

	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query, change.OrderID, change.From, change.To, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to append state change: %w", err)
	}

	return nil
}

// StateChanges returns the audit trail of an order in insertion order.
func (s *SQLiteStore) StateChanges(ctx context.Context, orderID string) ([]*StateChangeRecord, error) {
	query := `
		SELECT id, order_id, from_state, to_state, changed_at
		FROM order_state_changes
		WHERE order_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}
	defer rows.Close()

	changes := []*StateChangeRecord{}
	for rows.Next() {
		c := &StateChangeRecord{}
		if err := rows.Scan(&c.ID, &c.OrderID, &c.From, &c.To, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state change: %w", err)
		}
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state changes: %w", err)
	}

	return changes, nil
}

// MarkDeactivated flags a closed order so it is never recovered.
func (s *SQLiteStore) MarkDeactivated(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET deactivated = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewInstanceNotFoundError("order not found", nil).WithOrder(id)
	}

	return nil
}

// CountByState returns the number of non-deactivated orders per state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[engine.OrderState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM orders WHERE deactivated = 0 GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.OrderState]int)
	for rows.Next() {
		var (
			state engine.OrderState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
