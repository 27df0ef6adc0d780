package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	// SQLite has a single writer, so writes are serialized behind a
	// mutex and the pool is capped at one connection.
	sqliteMaxOpenConns = 1

	dbOperationTimeout = 30 * time.Second
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ModelUnixTime adds millisecond unix create/update timestamps to a
// model.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// DBI is the narrow persistence surface the rest of the bot uses.
// Implementations serialize writes; reads go through DB directly.
type DBI interface {
	// Create inserts the given model
	Create(value any) (rowsAffected int64, err error)

	// Save upserts the given model
	Save(value any) (rowsAffected int64, err error)

	// Update updates a single column on the given model
	Update(model any, column string, value any) (rowsAffected int64, err error)

	// Updates updates multiple columns on the given model
	Updates(model any, values any) (rowsAffected int64, err error)

	// Delete removes the given model
	Delete(value any, conds ...any) (rowsAffected int64, err error)

	// Transaction runs fc in a write transaction
	Transaction(fc func(tx *gorm.DB) error) error

	// DB returns the underlying gorm.DB, for reads
	DB() *gorm.DB
}

type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// CreateDB opens (creating if needed) the SQLite database at path and
// migrates the schema.
func CreateDB(
	ctx context.Context,
	path string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{}
	if gormLogger != nil {
		cfg.Logger = gormLogger
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)

	for _, pragma := range sqlitePragmas {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error executing %q: %w", pragma, err)
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&User{},
		&Badge{},
		&UserBadge{},
		&UniqueBadge{},
		&Punishment{},
		&Ticket{},
		&PendingImageRole{},
		&RuntimeConfig{},
	); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	return db, nil
}

// NewDatabase wraps a gorm.DB in the serialized write interface.
func NewDatabase(db *gorm.DB, logger *slog.Logger) DBI {
	if logger == nil {
		logger = slog.Default()
	}
	return &database{db: db, logger: logger.With(loggerNameKey, "database")}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Create(value any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	tx := d.db.WithContext(ctx).Create(value)
	return tx.RowsAffected, tx.Error
}

func (d *database) Save(value any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	tx := d.db.WithContext(ctx).Save(value)
	return tx.RowsAffected, tx.Error
}

func (d *database) Update(model any, column string, value any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	tx := d.db.WithContext(ctx).Model(model).Update(column, value)
	return tx.RowsAffected, tx.Error
}

func (d *database) Updates(model any, values any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	tx := d.db.WithContext(ctx).Model(model).Updates(values)
	return tx.RowsAffected, tx.Error
}

func (d *database) Delete(value any, conds ...any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	tx := d.db.WithContext(ctx).Delete(value, conds...)
	return tx.RowsAffected, tx.Error
}

func (d *database) Transaction(fc func(tx *gorm.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc)
}
