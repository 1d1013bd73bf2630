package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/crewform/pkg/observability"
)

const (
	activeTrailName = "audit.log"
	globalTrailDir  = "global"
)

// ErrLoggerClosed is returned when an event is logged after Close
var ErrLoggerClosed = errors.New("audit log is closed")

// FileLogger appends audit events as JSON lines, one trail per organization.
// Events without an organization go to the global trail.
type FileLogger struct {
	basePath string
	rotate   bool
	maxSize  int64
	maxFiles int

	archiver Archiver
	archives sync.WaitGroup

	mu     sync.Mutex
	trails map[string]*trail
	closed bool
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Rotate a trail once it reaches MaxSize
	MaxSize  int64  // Max trail size in bytes (default: 100MB)
	MaxFiles int    // Rotated files kept per trail (default: 10)

	// Archiver, when set, receives every rotated file
	Archiver Archiver
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/crewform/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		archiver: config.Archiver,
		trails:   make(map[string]*trail),
	}
	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}
	return logger, nil
}

// TrailDir returns the directory holding the trail of an organization, or
// the global trail when orgID is nil.
func (l *FileLogger) TrailDir(orgID *int64) string {
	if orgID == nil {
		return filepath.Join(l.basePath, globalTrailDir)
	}
	return filepath.Join(l.basePath, "org-"+strconv.FormatInt(*orgID, 10))
}

// Log appends an event to the trail of its organization
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoggerClosed
	}

	dir := l.TrailDir(event.OrganizationID)
	t, ok := l.trails[dir]
	if !ok {
		t, err = openTrail(dir)
		if err != nil {
			return err
		}
		l.trails[dir] = t
	}

	if l.rotate && t.size > 0 && t.size+int64(len(line)) > l.maxSize {
		rotated, err := t.rotate()
		if err != nil {
			return fmt.Errorf("failed to rotate audit trail: %w", err)
		}
		l.archive(ctx, dir, rotated)
	}
	return t.write(line)
}

// archive ships a rotated file in the background and prunes the trail once
// the upload finished. Without an archiver the trail is pruned right away.
func (l *FileLogger) archive(ctx context.Context, dir, rotated string) {
	if l.archiver == nil {
		if err := pruneRotated(dir, l.maxFiles); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to prune audit trail")
		}
		return
	}

	logger := observability.FromContext(ctx).WithField("file", rotated)
	ctx = context.WithoutCancel(ctx)
	l.archives.Add(1)
	go func() {
		defer l.archives.Done()
		if err := l.archiver.Archive(ctx, filepath.Base(dir), rotated); err != nil {
			logger.WithError(err).Error("Failed to archive audit trail")
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if err := pruneRotated(dir, l.maxFiles); err != nil {
			logger.WithError(err).Warn("Failed to prune audit trail")
		}
	}()
}

// LogAuthorization logs an authorization event
func (l *FileLogger) LogAuthorization(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	event := buildBaseEvent(ctx, eventType, status)
	event.UserID = userID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message

	return l.Log(ctx, event)
}

// LogDataMutation logs a data mutation event
func (l *FileLogger) LogDataMutation(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	event.UserID = userID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message

	return l.Log(ctx, event)
}

// Close waits for pending archive uploads and closes every open trail
func (l *FileLogger) Close() error {
	l.archives.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	var errs []error
	for dir, t := range l.trails {
		if err := t.close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.trails, dir)
	}
	return errors.Join(errs...)
}

// TrailFilter narrows the events returned by ReadTrail
type TrailFilter struct {
	EventTypes []EventType
	Since      time.Time
	Limit      int
}

func (f TrailFilter) match(event *AuditEvent) bool {
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if event.EventType == t {
			return true
		}
	}
	return false
}

// ReadTrail returns the events of the active trail of an organization, oldest
// first. Rotated files are not read.
func (l *FileLogger) ReadTrail(orgID *int64, filter TrailFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(filepath.Join(l.TrailDir(orgID), activeTrailName))
	if errors.Is(err, os.ErrNotExist) {
		return []*AuditEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer file.Close()

	events := []*AuditEvent{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to decode audit trail entry: %w", err)
		}
		if !filter.match(&event) {
			continue
		}
		events = append(events, &event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return events, nil
}

// trail is the active file of one organization's audit log
type trail struct {
	dir  string
	file *os.File
	size int64
	seq  int
}

func openTrail(dir string) (*trail, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit trail directory: %w", err)
	}
	t := &trail{dir: dir}
	if err := t.open(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *trail) open() error {
	file, err := os.OpenFile(filepath.Join(t.dir, activeTrailName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit trail: %w", err)
	}
	t.file = file
	t.size = info.Size()
	return nil
}

func (t *trail) write(line []byte) error {
	n, err := t.file.Write(line)
	t.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit trail: %w", err)
	}
	return nil
}

// rotate renames the active file and reopens a fresh one. It returns the
// rotated file path.
func (t *trail) rotate() (string, error) {
	if err := t.close(); err != nil {
		return "", err
	}

	// Names sort chronologically; seq separates rotations within one instant
	t.seq++
	rotated := filepath.Join(t.dir, fmt.Sprintf("audit-%s-%04d.log", time.Now().UTC().Format("20060102T150405.000000000"), t.seq))
	if err := os.Rename(filepath.Join(t.dir, activeTrailName), rotated); err != nil {
		return "", err
	}
	return rotated, t.open()
}

// pruneRotated removes the oldest rotated files of dir beyond keep
func pruneRotated(dir string, keep int) error {
	files, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil || len(files) <= keep {
		return err
	}
	sort.Strings(files)
	for _, file := range files[:len(files)-keep] {
		if err := os.Remove(file); err != nil {
			return err
		}
	}
	return nil
}

func (t *trail) close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
