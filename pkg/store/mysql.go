package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/aggregate"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/knobs"
)

// MySQLConfig holds MySQL connection configuration.
type MySQLConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SSLMode         string
	Charset         string
	ParseTime       bool
	Loc             string

	// RetentionDays bounds how long metric rows and segment index entries
	// are kept. Zero disables cleanup.
	RetentionDays int
}

// MySQLStore persists calls, metric rows, segment indexes and knob events
// to MySQL. All writes are idempotent on their natural keys so redelivery
// from the emit queue merges instead of duplicating.
type MySQLStore struct {
	db     *sql.DB
	config MySQLConfig
	logger *logrus.Logger
}

// NewMySQLStore opens a MySQL connection, configures the pool and runs the
// schema migrations.
func NewMySQLStore(config MySQLConfig, logger *logrus.Logger) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Charset,
		config.ParseTime,
		config.Loc,
	)

	if config.SSLMode != "" {
		dsn += "&tls=" + config.SSLMode
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &MySQLStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Connected to MySQL metric store")

	return s, nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health checks database connectivity.
func (s *MySQLStore) Health() error {
	ctx, cancel := s.getContext()
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database health check failed")
	}
	return nil
}

// UpsertCall creates or refreshes one call record.
func (s *MySQLStore) UpsertCall(record CallRecord) error {
	ctx, cancel := s.getContext()
	defer cancel()

	query := `
		INSERT INTO calls (call_id, started_at, ended_at, src_extension, dst_extension, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			ended_at = COALESCE(VALUES(ended_at), ended_at),
			src_extension = COALESCE(NULLIF(VALUES(src_extension), ''), src_extension),
			dst_extension = COALESCE(NULLIF(VALUES(dst_extension), ''), dst_extension),
			notes = COALESCE(NULLIF(VALUES(notes), ''), notes)`

	_, err := s.db.ExecContext(ctx, query,
		record.CallID,
		record.StartedAt,
		record.EndedAt,
		record.SrcExt,
		record.DstExt,
		record.Notes,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert call record").WithField("call_id", record.CallID)
	}
	return nil
}

// WriteMetricBatch stores a batch of aggregated rows. Rows sharing a
// natural key with an existing record replace it, so redelivered batches
// are safe.
func (s *MySQLStore) WriteMetricBatch(rows []aggregate.Row) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := s.getContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin metric batch transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO metric_rows
			(id, call_id, station_id, tap, metric_key, bucket_ts, bucket_ms,
			 sample_count, min_value, max_value, avg_value, sum_value, last_value, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			sample_count = VALUES(sample_count),
			min_value = VALUES(min_value),
			max_value = VALUES(max_value),
			avg_value = VALUES(avg_value),
			sum_value = VALUES(sum_value),
			last_value = VALUES(last_value),
			received_at = VALUES(received_at)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare metric row insert")
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			row.CallID,
			row.StationID,
			row.Tap,
			row.MetricKey,
			row.BucketTS,
			row.BucketMS,
			row.Count,
			nullFloat(row.Min),
			nullFloat(row.Max),
			nullFloat(row.Avg),
			nullFloat(row.Sum),
			nullFloat(row.Last),
			row.ReceivedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert metric row").WithFields(map[string]interface{}{
				"call_id":    row.CallID,
				"metric_key": row.MetricKey,
				"bucket_ts":  row.BucketTS,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit metric batch")
	}
	return nil
}

// IndexAudioSegment records one written segment file, replacing any prior
// entry for the same (call, station, tap, bucket).
func (s *MySQLStore) IndexAudioSegment(record SegmentIndex) error {
	ctx, cancel := s.getContext()
	defer cancel()

	query := `
		INSERT INTO audio_segments
			(id, call_id, station_id, tap, bucket_ts, bucket_ms,
			 sample_rate, channels, format, file_path, file_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			file_path = VALUES(file_path),
			file_bytes = VALUES(file_bytes)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		record.CallID,
		record.StationID,
		record.Tap,
		record.BucketTS,
		record.BucketMS,
		record.SampleRate,
		record.Channels,
		record.Format,
		record.FilePath,
		record.FileBytes,
	)
	if err != nil {
		return errors.Wrap(err, "failed to index audio segment").WithFields(map[string]interface{}{
			"call_id":   record.CallID,
			"bucket_ts": record.BucketTS,
			"file_path": record.FilePath,
		})
	}
	return nil
}

// RecordKnobEvent appends one knob change to the audit trail.
func (s *MySQLStore) RecordKnobEvent(event knobs.ChangeResult) error {
	ctx, cancel := s.getContext()
	defer cancel()

	query := `
		INSERT INTO knob_events
			(id, call_id, knob_key, old_value, new_value, source, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		event.CallID,
		event.Key,
		fmt.Sprintf("%v", event.OldValue),
		fmt.Sprintf("%v", event.NewValue),
		event.Source,
		event.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record knob event").WithField("knob_key", event.Key)
	}
	return nil
}

// RunRetentionCleanup deletes metric rows and segment index entries older
// than the configured retention window.
func (s *MySQLStore) RunRetentionCleanup() error {
	if s.config.RetentionDays <= 0 {
		return nil
	}

	ctx, cancel := s.getContext()
	defer cancel()

	cutoffMS := time.Now().AddDate(0, 0, -s.config.RetentionDays).UnixMilli()

	for _, table := range []string{"metric_rows", "audio_segments"} {
		result, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE bucket_ts < ?", table), cutoffMS)
		if err != nil {
			return errors.Wrap(err, "retention cleanup failed").WithField("table", table)
		}
		if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
			s.logger.WithFields(logrus.Fields{
				"table":   table,
				"deleted": deleted,
			}).Info("Retention cleanup removed expired rows")
		}
	}
	return nil
}

func (s *MySQLStore) migrate() error {
	migrations := []string{
		createCallsTable,
		createMetricRowsTable,
		createAudioSegmentsTable,
		createKnobEventsTable,
	}

	for i, migration := range migrations {
		s.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := s.db.Exec(migration); err != nil {
			return errors.Wrap(err, fmt.Sprintf("migration %d failed", i+1))
		}
	}

	s.logger.Info("Database migrations completed successfully")
	return nil
}

func (s *MySQLStore) getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// nullFloat maps NaN aggregates to SQL NULL. MySQL DOUBLE has no NaN.
func nullFloat(v float64) interface{} {
	if v != v {
		return nil
	}
	return v
}

// Database schema definitions
const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    call_id VARCHAR(255) PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NULL,
    src_extension VARCHAR(64) NULL,
    dst_extension VARCHAR(64) NULL,
    notes TEXT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    INDEX idx_started_at (started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createMetricRowsTable = `
CREATE TABLE IF NOT EXISTS metric_rows (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NOT NULL,
    station_id VARCHAR(128) NOT NULL,
    tap VARCHAR(8) NOT NULL,
    metric_key VARCHAR(128) NOT NULL,
    bucket_ts BIGINT NOT NULL,
    bucket_ms BIGINT NOT NULL,
    sample_count BIGINT NOT NULL,
    min_value DOUBLE NULL,
    max_value DOUBLE NULL,
    avg_value DOUBLE NULL,
    sum_value DOUBLE NULL,
    last_value DOUBLE NULL,
    received_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_series_bucket (call_id, station_id, tap, metric_key, bucket_ts),
    INDEX idx_call_id (call_id),
    INDEX idx_metric_key (metric_key),
    INDEX idx_bucket_ts (bucket_ts)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createAudioSegmentsTable = `
CREATE TABLE IF NOT EXISTS audio_segments (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NOT NULL,
    station_id VARCHAR(128) NOT NULL,
    tap VARCHAR(8) NOT NULL,
    bucket_ts BIGINT NOT NULL,
    bucket_ms BIGINT NOT NULL,
    sample_rate INT NOT NULL,
    channels INT NOT NULL,
    format VARCHAR(32) NOT NULL,
    file_path VARCHAR(512) NOT NULL,
    file_bytes BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_segment_bucket (call_id, station_id, tap, bucket_ts),
    INDEX idx_call_id (call_id),
    INDEX idx_bucket_ts (bucket_ts)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createKnobEventsTable = `
CREATE TABLE IF NOT EXISTS knob_events (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NULL,
    knob_key VARCHAR(128) NOT NULL,
    old_value VARCHAR(255) NULL,
    new_value VARCHAR(255) NOT NULL,
    source VARCHAR(32) NOT NULL,
    changed_at TIMESTAMP NOT NULL,
    INDEX idx_call_id (call_id),
    INDEX idx_knob_key (knob_key),
    INDEX idx_changed_at (changed_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
