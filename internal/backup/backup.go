// Package backup takes encrypted snapshots of the ledger database and keeps
// them in S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	_ "modernc.org/sqlite"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3         S3Config
	Passphrase string
	Prefix     string
	Interval   time.Duration
	Retention  time.Duration
}

const (
	defaultPrefix    = "ledger/"
	defaultInterval  = 24 * time.Hour
	defaultRetention = 30 * 24 * time.Hour
	keyTimeLayout    = "2006-01-02T150405.000Z"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"lastBackup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"inProgress"`
}

// Snapshot describes one stored object.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager snapshots the database on a schedule and prunes old snapshots.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. Without complete S3 credentials and a
// passphrase the manager is disabled and every operation reports so.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	m := &Manager{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		status: Status{State: StateDisabled},
	}
	if cfg.S3.complete() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// SetClock overrides the time source used for snapshot keys and retention.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Enabled reports whether snapshots can be taken.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the scheduled snapshot loop. It is a no-op when disabled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduled loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) scheduled(ctx context.Context) {
	snap, err := m.RunNow(ctx)
	if err != nil {
		m.logger.Error("scheduled snapshot failed", "error", err)
		return
	}
	m.logger.Info("snapshot stored", "key", snap.Key, "size", snap.Size)

	removed, err := m.Cleanup(ctx)
	if err != nil {
		m.logger.Error("snapshot cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Info("snapshots pruned", "removed", removed)
	}
}

// RunNow snapshots the database, encrypts it and uploads it. Only one
// snapshot runs at a time.
func (m *Manager) RunNow(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: backups are not configured", apperr.ErrInvalidState)
	}
	if m.status.InProgress {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: a snapshot is already running", apperr.ErrInvalidState)
	}
	last := m.status.LastBackup
	m.status = Status{State: StateRunning, InProgress: true, LastBackup: last}
	client, bucket, prefix, passphrase, now := m.client, m.cfg.S3.Bucket, m.cfg.Prefix, m.cfg.Passphrase, m.now()
	m.mu.Unlock()

	snap, err := m.upload(ctx, client, bucket, prefix, passphrase, now.UTC())

	m.mu.Lock()
	if err != nil {
		m.status = Status{State: StateError, Error: err.Error(), LastBackup: last}
	} else {
		taken := snap.CreatedAt
		m.status = Status{State: StateIdle, LastBackup: &taken}
	}
	m.mu.Unlock()
	return snap, err
}

func (m *Manager) upload(ctx context.Context, client s3Client, bucket, prefix, passphrase string, now time.Time) (Snapshot, error) {
	plaintext, err := m.dump(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	sealed, err := Seal(plaintext, passphrase)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encrypt: %w", err)
	}

	key := prefix + "ledger-" + now.Format(keyTimeLayout) + ".db.enc"
	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	}); err != nil {
		return Snapshot{}, fmt.Errorf("upload to s3: %w", err)
	}
	return Snapshot{Key: key, Size: int64(len(sealed)), CreatedAt: now}, nil
}

// dump writes a transactionally consistent copy of the database with
// VACUUM INTO and returns its bytes.
func (m *Manager) dump(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "smartpick-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "ledger.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	client, bucket, prefix := m.client, m.cfg.S3.Bucket, m.cfg.Prefix
	m.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: backups are not configured", apperr.ErrInvalidState)
	}

	var snaps []Snapshot
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			snaps = append(snaps, Snapshot{
				Key:       aws.ToString(obj.Key),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// Cleanup deletes snapshots older than the retention period and returns how
// many were removed. The newest snapshot is always kept.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	client, bucket := m.client, m.cfg.S3.Bucket
	cutoff := m.now().UTC().Add(-m.cfg.Retention)
	m.mu.RUnlock()

	removed := 0
	for i, snap := range snaps {
		if i == 0 || !snap.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(snap.Key),
		}); err != nil {
			m.logger.Warn("failed to delete snapshot", "key", snap.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Restore downloads and decrypts a snapshot, checks its integrity and writes
// it to dstPath. It refuses to overwrite an existing file; swapping the live
// database is left to the operator while the service is stopped.
func (m *Manager) Restore(ctx context.Context, key, dstPath string) error {
	m.mu.RLock()
	client, bucket, passphrase := m.client, m.cfg.S3.Bucket, m.cfg.Passphrase
	m.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("%w: backups are not configured", apperr.ErrInvalidState)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	plaintext, err := Open(sealed, passphrase)
	if err != nil {
		return err
	}

	tmp := dstPath + ".restore"
	if err := os.WriteFile(tmp, plaintext, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer os.Remove(tmp)

	if err := checkIntegrity(ctx, tmp); err != nil {
		return err
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("restore target %s already exists", dstPath)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		return fmt.Errorf("move snapshot into place: %w", err)
	}
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}
