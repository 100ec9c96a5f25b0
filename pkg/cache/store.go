// Package cache is the local report store. Fetched reports are kept in a
// SQLite database keyed by slug, with the JSON payload zstd-compressed
// above the storage threshold. The CLI consults the cache before fetching
// and records every fetched report into it.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/privlens/sdk/pkg/compress"
	"github.com/privlens/sdk/pkg/core"
	"github.com/privlens/sdk/pkg/metrics"
	"github.com/privlens/sdk/pkg/scan"
)

const (
	// DefaultMaxAge is how long a cached report stays valid for cleanup.
	DefaultMaxAge = 7 * 24 * time.Hour

	// DefaultMaxBytes bounds the total stored payload size.
	DefaultMaxBytes = 64 << 20

	// DefaultFileName is the database file name under the cache directory.
	DefaultFileName = "reports.db"
)

// Config holds report cache settings.
type Config struct {
	// Path to the SQLite database file
	Path string `yaml:"path" json:"path"`

	// MaxAge is the age cutoff applied by Cleanup
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`

	// MaxBytes is the payload size bound applied by CleanupToSize
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:     DefaultPath(),
		MaxAge:   DefaultMaxAge,
		MaxBytes: DefaultMaxBytes,
	}
}

// DefaultPath returns the database path under the user cache directory.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(dir, "privlens", DefaultFileName)
}

// Store is the SQLite-backed report cache.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	cfg *Config

	logger    core.Logger
	collector metrics.Collector
}

// NewStore opens (creating if needed) the report cache. A nil cfg uses
// DefaultConfig; zero fields in a partial cfg fall back to their defaults.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000", // 16MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{
		db:        db,
		cfg:       cfg,
		logger:    core.LoggerFromVerbose("cache", cfg.Verbose),
		collector: metrics.GetDefaultCollector(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return s, nil
}

// initSchema creates the cache tables if they don't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		scan_id TEXT NOT NULL,
		input TEXT,
		domain TEXT,
		score INTEGER NOT NULL,
		label TEXT,
		evidence_count INTEGER NOT NULL,
		algorithm TEXT NOT NULL DEFAULT 'none',
		payload BLOB NOT NULL,
		payload_size INTEGER NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_fetched_at ON reports(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_reports_domain ON reports(domain);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(l core.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetCollector replaces the store's metrics collector.
func (s *Store) SetCollector(col metrics.Collector) {
	if col != nil {
		s.collector = col
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// Put stores a report, replacing any previous row with the same slug.
func (s *Store) Put(ctx context.Context, r *scan.Report) error {
	if r == nil || r.Scan.Slug == "" {
		return fmt.Errorf("cache report without slug")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	algo := compress.StorageAlgorithm(len(data))
	payload, err := compress.Encode(algo, data)
	if err != nil {
		return fmt.Errorf("compress report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, slug, scan_id, input, domain, score, label,
			evidence_count, algorithm, payload, payload_size, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			scan_id = excluded.scan_id,
			input = excluded.input,
			domain = excluded.domain,
			score = excluded.score,
			label = excluded.label,
			evidence_count = excluded.evidence_count,
			algorithm = excluded.algorithm,
			payload = excluded.payload,
			payload_size = excluded.payload_size,
			fetched_at = excluded.fetched_at
	`,
		uuid.New().String(), r.Scan.Slug, r.Scan.ID, r.Scan.Input,
		hostOf(r.Scan.Input), scan.ClampScore(r.Scan.Score), r.Scan.Label,
		len(r.Evidence), string(algo), payload, len(payload),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}

	s.logger.Debug("cached report %s (%d bytes, %s)", r.Scan.Slug, len(payload), algo)
	s.refreshSizeGauge(ctx)
	return nil
}

// Get loads a report by slug. A miss returns (nil, nil).
func (s *Store) Get(ctx context.Context, slug string) (*scan.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var algoName string
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT algorithm, payload FROM reports WHERE slug = ?
	`, slug).Scan(&algoName, &payload)
	if err == sql.ErrNoRows {
		s.collector.CounterInc(metrics.CacheMissesTotal.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	algo, err := compress.ParseAlgorithm(algoName)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	data, err := compress.Decode(algo, payload)
	if err != nil {
		return nil, fmt.Errorf("decompress report: %w", err)
	}

	var r scan.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	r.Rehydrate()

	s.collector.CounterInc(metrics.CacheHitsTotal.Name)
	return &r, nil
}

// ListRecent returns the most recently fetched reports, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]scan.RecentReport, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, score, label, domain, evidence_count, fetched_at
		FROM reports
		ORDER BY fetched_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var recent []scan.RecentReport
	for rows.Next() {
		var rr scan.RecentReport
		if err := rows.Scan(&rr.Slug, &rr.Score, &rr.Label, &rr.Domain, &rr.EvidenceCount, &rr.CreatedAt); err != nil {
			return nil, err
		}
		recent = append(recent, rr)
	}
	return recent, rows.Err()
}

// Cleanup removes reports fetched before the age cutoff. Returns the
// number of rows removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = s.cfg.MaxAge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reports WHERE fetched_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup by age: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.collector.CounterAdd(metrics.CacheEvictionsTotal.Name, float64(removed), "age")
		s.logger.Debug("evicted %d report(s) older than %s", removed, maxAge)
	}
	s.refreshSizeGauge(ctx)
	return removed, nil
}

// CleanupToSize removes the oldest reports until the stored payload size is
// under maxBytes. Returns the number of rows removed.
func (s *Store) CleanupToSize(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		maxBytes = s.cfg.MaxBytes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for {
		var total sql.NullInt64
		_ = s.db.QueryRowContext(ctx, `SELECT SUM(payload_size) FROM reports`).Scan(&total)
		if !total.Valid || total.Int64 <= maxBytes {
			break
		}

		var slug string
		err := s.db.QueryRowContext(ctx, `
			SELECT slug FROM reports ORDER BY fetched_at ASC LIMIT 1
		`).Scan(&slug)
		if err != nil {
			break
		}

		if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE slug = ?`, slug); err != nil {
			return removed, fmt.Errorf("cleanup by size: %w", err)
		}
		removed++
	}

	if removed > 0 {
		s.collector.CounterAdd(metrics.CacheEvictionsTotal.Name, float64(removed), "size")
		s.logger.Debug("evicted %d report(s) to fit %d bytes", removed, maxBytes)
	}
	s.refreshSizeGauge(ctx)
	return removed, nil
}

// Stats describes the cache contents.
type Stats struct {
	Reports      int        `json:"reports"`
	PayloadBytes int64      `json:"payload_bytes"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
}

// Stats returns cache statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	var bytes sql.NullInt64
	var oldest, newest sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(payload_size), MIN(fetched_at), MAX(fetched_at)
		FROM reports
	`).Scan(&stats.Reports, &bytes, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	if bytes.Valid {
		stats.PayloadBytes = bytes.Int64
	}
	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}
	if newest.Valid {
		stats.Newest = &newest.Time
	}
	return &stats, nil
}

// Check verifies database integrity. Used by the doctor diagnostics.
func (s *Store) Check(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var verdict string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&verdict); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if verdict != "ok" {
		return fmt.Errorf("integrity check failed: %s", verdict)
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// refreshSizeGauge recomputes the stored payload size. Callers hold the
// write lock.
func (s *Store) refreshSizeGauge(ctx context.Context) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(payload_size) FROM reports`).Scan(&total); err != nil {
		return
	}
	if total.Valid {
		s.collector.GaugeSet(metrics.CacheSizeBytes.Name, float64(total.Int64))
	} else {
		s.collector.GaugeSet(metrics.CacheSizeBytes.Name, 0)
	}
}

// hostOf extracts the lowercased hostname from a scanned input URL.
func hostOf(input string) string {
	if input == "" {
		return ""
	}
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + input)
		if err != nil {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}
