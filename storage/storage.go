package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"armstrong.academy/cloud/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Redemption is the row state returned by a successful atomic redeem.
type Redemption struct {
	UsageCount int
	MaxUses    int
	Email      string
}

// Remaining reports how many downloads are left after this redemption.
func (r *Redemption) Remaining() int {
	return r.MaxUses - r.UsageCount
}

type Storage interface {
	// SaveLicense inserts a new license. The unique constraint on the
	// Stripe session id rejects a second insert for the same payment.
	SaveLicense(ctx context.Context, license *models.License) error

	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error)

	// RedeemLicense increments usage_count by one in a single conditional
	// update, only while the license is active and under quota. It returns
	// (nil, nil) when no row matched.
	RedeemLicense(ctx context.Context, key, productID string) (*Redemption, error)

	Close() error
}

type MemoryStorage struct {
	mu       sync.Mutex
	Licenses map[string]models.License // keyed by license key
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Licenses: make(map[string]models.License),
	}
}

func (m *MemoryStorage) SaveLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Licenses == nil {
		m.Licenses = make(map[string]models.License)
	}

	if _, exists := m.Licenses[license.Key]; exists {
		return fmt.Errorf("license with key %s already exists", license.Key)
	}

	for _, existing := range m.Licenses {
		if existing.StripeSessionID == license.StripeSessionID {
			return fmt.Errorf("license for session %s already exists", license.StripeSessionID)
		}
	}

	m.Licenses[license.Key] = *license
	return nil
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.Licenses[key]
	if !exists {
		return nil, nil
	}
	return &license, nil
}

func (m *MemoryStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, license := range m.Licenses {
		if license.StripeSessionID == sessionID {
			licenseCopy := license
			return &licenseCopy, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) RedeemLicense(ctx context.Context, key, productID string) (*Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.Licenses[key]
	if !exists {
		return nil, nil
	}
	if license.ProductID != productID || !license.IsActive || license.UsageCount >= license.MaxUses {
		return nil, nil
	}

	license.UsageCount++
	license.UpdatedAt = time.Now()
	m.Licenses[key] = license

	return &Redemption{
		UsageCount: license.UsageCount,
		MaxUses:    license.MaxUses,
		Email:      license.Email,
	}, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent redemptions.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (s *SQLiteStorage) SaveLicense(ctx context.Context, license *models.License) error {
	query := `INSERT INTO licenses (key, product_id, email, stripe_session_id, usage_count, max_uses, is_active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		license.Key,
		license.ProductID,
		license.Email,
		license.StripeSessionID,
		license.UsageCount,
		license.MaxUses,
		license.IsActive,
		license.CreatedAt,
		license.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	query := `SELECT key, product_id, email, stripe_session_id, usage_count, max_uses, is_active, created_at, updated_at
	          FROM licenses WHERE key = ?`

	return s.scanLicense(s.db.QueryRowContext(ctx, query, key))
}

func (s *SQLiteStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	query := `SELECT key, product_id, email, stripe_session_id, usage_count, max_uses, is_active, created_at, updated_at
	          FROM licenses WHERE stripe_session_id = ?`

	return s.scanLicense(s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *SQLiteStorage) scanLicense(row *sql.Row) (*models.License, error) {
	var license models.License
	err := row.Scan(
		&license.Key,
		&license.ProductID,
		&license.Email,
		&license.StripeSessionID,
		&license.UsageCount,
		&license.MaxUses,
		&license.IsActive,
		&license.CreatedAt,
		&license.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &license, nil
}

func (s *SQLiteStorage) RedeemLicense(ctx context.Context, key, productID string) (*Redemption, error) {
	// Quota check and increment in one conditional update. Two concurrent
	// redemptions can never both pass the usage_count < max_uses predicate
	// for the last remaining use.
	query := `UPDATE licenses
	          SET usage_count = usage_count + 1, updated_at = CURRENT_TIMESTAMP
	          WHERE key = ? AND product_id = ? AND is_active = 1 AND usage_count < max_uses
	          RETURNING usage_count, max_uses, email`

	var redemption Redemption
	err := s.db.QueryRowContext(ctx, query, key, productID).Scan(
		&redemption.UsageCount,
		&redemption.MaxUses,
		&redemption.Email,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem license: %w", err)
	}

	return &redemption, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
