// Package audit records client activity as an append-only JSON-lines log:
// scan submissions and outcomes, report fetches, rate-limit pushback, and
// cache maintenance. Events are buffered and flushed in batches, and the
// log file rotates once it grows past a size cap.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Scan lifecycle
	EventScanSubmitted EventType = "scan_submitted"
	EventScanCompleted EventType = "scan_completed"
	EventScanFailed    EventType = "scan_failed"

	// Report retrieval
	EventReportFetched EventType = "report_fetched"

	// Cache activity
	EventCacheHit     EventType = "cache_hit"
	EventCacheMiss    EventType = "cache_miss"
	EventCacheCleanup EventType = "cache_cleanup"

	// Service pushback
	EventRateLimited EventType = "rate_limited"
	EventAuthFailed  EventType = "auth_failed"
)

// Severity represents log severity level.
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARN"
	SeverityError   Severity = "ERROR"
)

// Event is one line of the activity log.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Source     string         `json:"source,omitempty"`
	ScanID     string         `json:"scan_id,omitempty"`
	Slug       string         `json:"slug,omitempty"`
	Input      string         `json:"input,omitempty"`
	Message    string         `json:"message"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

const (
	// DefaultFileName is the log file name under the user cache directory.
	DefaultFileName = "audit.log"

	// DefaultMaxBytes rotates the log once it reaches 20MB.
	DefaultMaxBytes int64 = 20 << 20

	// DefaultBufferSize is the number of events held before a flush.
	DefaultBufferSize = 50

	// DefaultFlushInterval is how often buffered events reach the disk.
	DefaultFlushInterval = 2 * time.Second
)

// Config configures the activity log.
type Config struct {
	// LogFile is the path of the JSON-lines log.
	// Default: <user cache dir>/privlens/audit.log.
	LogFile string

	// Source tags every event with the producing component, e.g. "cli".
	Source string

	// MaxBytes rotates the log once it grows past this size. One rotated
	// generation is kept as LogFile + ".1".
	MaxBytes int64

	// BufferSize is the number of events buffered before an early flush.
	BufferSize int

	// FlushInterval is the background flush period once Start is called.
	FlushInterval time.Duration

	// Verbose echoes events to stderr as they are logged.
	Verbose bool
}

// DefaultConfig returns the settings the CLI runs with.
func DefaultConfig() *Config {
	return &Config{
		LogFile:       DefaultPath(),
		MaxBytes:      DefaultMaxBytes,
		BufferSize:    DefaultBufferSize,
		FlushInterval: DefaultFlushInterval,
	}
}

// DefaultPath returns the standard log location, typically
// ~/.cache/privlens/audit.log on Linux.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(dir, "privlens", DefaultFileName)
}

// Logger is the activity log writer.
type Logger struct {
	config *Config

	mu   sync.Mutex // guards file, size, running, stopCh
	file *os.File
	size int64

	bufferMu sync.Mutex
	buffer   []Event

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLogger opens the activity log, creating its directory when missing.
// Zero-value config fields are replaced with defaults.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.LogFile == "" {
		config.LogFile = DefaultPath()
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}

	if dir := filepath.Dir(config.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
	}
	if info, err := file.Stat(); err == nil {
		l.size = info.Size()
	}
	return l, nil
}

// Path returns the location of the active log file.
func (l *Logger) Path() string {
	return l.config.LogFile
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Stop flushes remaining events and closes the log file. It is safe to call
// without a prior Start and safe to call twice.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if l.running {
		l.running = false
		close(l.stopCh)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Log records an event. The timestamp, source, and severity are filled in
// when absent.
func (l *Logger) Log(event Event) {
	event.Timestamp = time.Now().UTC()
	if event.Source == "" {
		event.Source = l.config.Source
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Verbose {
		l.printEvent(event)
	}

	if shouldFlush {
		// Tracked so Stop waits for in-flight flushes before closing the file.
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.Flush()
		}()
	}
}

// Convenience methods for the events the CLI emits

// Info logs an informational event.
func (l *Logger) Info(eventType EventType, message string, details map[string]any) {
	l.Log(Event{
		Type:     eventType,
		Severity: SeverityInfo,
		Message:  message,
		Details:  details,
	})
}

// Error logs an error event.
func (l *Logger) Error(eventType EventType, message string, err error, details map[string]any) {
	event := Event{
		Type:     eventType,
		Severity: SeverityError,
		Message:  message,
		Details:  details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// ScanSubmitted records a freshly accepted scan.
func (l *Logger) ScanSubmitted(scanID, input string, deduped bool) {
	l.Log(Event{
		Type:    EventScanSubmitted,
		ScanID:  scanID,
		Input:   input,
		Message: "Scan submitted",
		Details: map[string]any{"deduped": deduped},
	})
}

// ScanCompleted records a watch that reached the done state.
func (l *Logger) ScanCompleted(scanID, slug string, score int, duration time.Duration) {
	l.Log(Event{
		Type:       EventScanCompleted,
		ScanID:     scanID,
		Slug:       slug,
		Message:    fmt.Sprintf("Scan completed with score %d", score),
		DurationMS: duration.Milliseconds(),
	})
}

// ScanFailed records a scan that ended in the error state or a watch that
// gave up.
func (l *Logger) ScanFailed(scanID string, err error) {
	event := Event{
		Type:     EventScanFailed,
		Severity: SeverityError,
		ScanID:   scanID,
		Message:  "Scan failed",
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// ReportFetched records where a report came from, "api" or "cache".
func (l *Logger) ReportFetched(slug, source string) {
	l.Log(Event{
		Type:    EventReportFetched,
		Slug:    slug,
		Message: "Report fetched from " + source,
		Details: map[string]any{"source": source},
	})
}

// RateLimited records service pushback seen during a watch.
func (l *Logger) RateLimited(scanID string, wait time.Duration) {
	l.Log(Event{
		Type:     EventRateLimited,
		Severity: SeverityWarning,
		ScanID:   scanID,
		Message:  "Rate limited, backing off",
		Details:  map[string]any{"wait_ms": wait.Milliseconds()},
	})
}

// CacheCleanup records evictions from the local report cache.
func (l *Logger) CacheCleanup(removed int64, reason string) {
	l.Log(Event{
		Type:    EventCacheCleanup,
		Message: fmt.Sprintf("Cache cleanup removed %d report(s)", removed),
		Details: map[string]any{"removed": removed, "reason": reason},
	})
}

// Flush writes buffered events to disk, rotating the file first when it has
// outgrown the size cap.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size >= l.config.MaxBytes {
		l.rotate()
	}
	if l.file == nil {
		return
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := l.file.Write(append(data, '\n')); err == nil {
			l.size += int64(len(data)) + 1
		}
	}
	_ = l.file.Sync()
}

// rotate keeps the active file as LogFile+".1" and starts a fresh one.
// Callers hold mu.
func (l *Logger) rotate() {
	_ = l.file.Close()
	_ = os.Rename(l.config.LogFile, l.config.LogFile+".1")

	file, err := os.OpenFile(l.config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		l.file = nil
		return
	}
	l.file = file
	// A failed rename reopens the oversized file; Stat keeps the size
	// honest so rotation is retried on the next flush.
	l.size = 0
	if info, err := file.Stat(); err == nil {
		l.size = info.Size()
	}
}

// flushLoop periodically flushes buffered events.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// printEvent echoes an event to stderr in a human-readable form.
func (l *Logger) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Fprintf(os.Stderr, "[%s] [%s] %s: %s\n", timestamp, event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Fprintf(os.Stderr, "  error: %s\n", event.Error)
	}
}

// WithScan returns a logger that stamps the scan id and slug on every event.
func (l *Logger) WithScan(scanID, slug string) *ScanLogger {
	return &ScanLogger{logger: l, scanID: scanID, slug: slug}
}

// ScanLogger wraps Logger with the identity of one watched scan.
type ScanLogger struct {
	logger *Logger
	scanID string
	slug   string
}

// Info logs an info event carrying the scan identity.
func (sl *ScanLogger) Info(eventType EventType, message string, details map[string]any) {
	sl.logger.Log(Event{
		Type:     eventType,
		Severity: SeverityInfo,
		ScanID:   sl.scanID,
		Slug:     sl.slug,
		Message:  message,
		Details:  details,
	})
}

// Error logs an error event carrying the scan identity.
func (sl *ScanLogger) Error(eventType EventType, message string, err error, details map[string]any) {
	event := Event{
		Type:     eventType,
		Severity: SeverityError,
		ScanID:   sl.scanID,
		Slug:     sl.slug,
		Message:  message,
		Details:  details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	sl.logger.Log(event)
}
