// Package sqlstore is a transcript.Store on top of GORM. SQLite (pure Go) is
// the default dialect; Postgres and MySQL are available for shared setups.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DefaultPath is the SQLite database used when nothing else is configured.
const DefaultPath = "logs.db"

// Row is the table layout. It keeps the column set of a plain "responses"
// log so existing databases stay readable.
type Row struct {
	ID             string `gorm:"primaryKey;size:36"`
	SessionID      string `gorm:"index;size:36"`
	ConversationID string `gorm:"index;size:36;not null"`
	Round          int
	Player         string `gorm:"size:255"`
	Character      string `gorm:"size:255"`
	Model          string `gorm:"size:255"`
	Prompt         string `gorm:"type:text"`
	System         string `gorm:"type:text"`
	Response       string `gorm:"type:text"`
	InputTokens    int64
	OutputTokens   int64
	DurationNS     int64
	CreatedAt      time.Time `gorm:"index"`
}

// TableName implements gorm's Tabler.
func (Row) TableName() string { return "responses" }

func toRow(rec core.Record) Row {
	return Row{
		ID:             rec.ID,
		SessionID:      rec.SessionID,
		ConversationID: rec.ConversationID,
		Round:          rec.Round,
		Player:         rec.Player,
		Character:      rec.Character,
		Model:          rec.Model,
		Prompt:         rec.Prompt,
		System:         rec.System,
		Response:       rec.Response,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		DurationNS:     int64(rec.Duration),
		CreatedAt:      rec.CreatedAt,
	}
}

func (r Row) record() core.Record {
	return core.Record{
		ID:             r.ID,
		SessionID:      r.SessionID,
		ConversationID: r.ConversationID,
		Round:          r.Round,
		Player:         r.Player,
		Character:      r.Character,
		Model:          r.Model,
		Prompt:         r.Prompt,
		System:         r.System,
		Response:       r.Response,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		Duration:       time.Duration(r.DurationNS),
		CreatedAt:      r.CreatedAt,
	}
}

// Options configures Open.
type Options struct {
	// Driver is one of sqlite, postgres or mysql. Defaults to sqlite.
	Driver string
	// DSN is the data source; for sqlite a file path. Defaults to logs.db.
	DSN string
	// MaxOpenConns bounds the pool for server databases. SQLite always uses
	// a single connection.
	MaxOpenConns int
	Logger       logging.Logger
}

// Store implements transcript.Store.
type Store struct {
	db     *gorm.DB
	logger logging.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Driver:       DriverSQLite,
		DSN:          DefaultPath,
		MaxOpenConns: 10,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	dialector, err := dialectorFor(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if strings.EqualFold(opts.Driver, DriverSQLite) || opts.Driver == "" {
		// One connection keeps ":memory:" databases intact and serializes
		// SQLite writers.
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := New(db, func(o *Options) { o.Logger = opts.Logger })
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.logger.Info("transcript.sql.open", "driver", opts.Driver)

	return s, nil
}

// New wraps an existing *gorm.DB without migrating. Only the Logger option is
// honoured.
func New(db *gorm.DB, optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{db: db, logger: opts.Logger}
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driver)
	}
}

// Migrate creates or updates the responses table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	return nil
}

// Append implements transcript.Sink.
func (s *Store) Append(ctx context.Context, rec core.Record) error {
	if err := transcript.Validate(rec); err != nil {
		return err
	}

	row := toRow(rec)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("transcript.sql.append.error", "record_id", rec.ID, "error", err)
		return fmt.Errorf("insert response %s: %w", rec.ID, err)
	}

	return nil
}

// LoadConversation implements transcript.Loader.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) ([]core.Record, error) {
	rows, err := s.find(ctx, "conversation_id = ?", conversationID)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", transcript.ErrConversationNotFound, conversationID)
	}

	return rows, nil
}

// SessionRecords implements transcript.Store.
func (s *Store) SessionRecords(ctx context.Context, sessionID string) ([]core.Record, error) {
	return s.find(ctx, "session_id = ?", sessionID)
}

func (s *Store) find(ctx context.Context, query string, arg string) ([]core.Record, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).Where(query, arg).Order("created_at, id").Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []core.Record{}, nil
		}
		return nil, fmt.Errorf("query responses: %w", err)
	}

	out := make([]core.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}

	return out, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
