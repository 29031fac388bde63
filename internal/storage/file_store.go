package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/internal/validation"
)

const (
	manifestName   = "manifest.json"
	snapshotPrefix = "snapshot_v"
	snapshotExt    = ".csnp"
)

// Manifest describes the current snapshot in a FileStore directory.
type Manifest struct {
	RunID         string    `json:"run_id"`
	FormatVersion int       `json:"format_version"`
	File          string    `json:"file"`
	Checksum      string    `json:"checksum"`
	SizeBytes     int64     `json:"size_bytes"`
	TrainedAt     time.Time `json:"trained_at"`
	SavedAt       time.Time `json:"saved_at"`
	ConfigHash    string    `json:"config_hash,omitempty"`
	Users         int       `json:"users"`
	Items         int       `json:"items"`
	Ratings       int       `json:"ratings"`
}

// FileStore keeps numbered snapshot files in a directory plus a manifest
// pointing at the latest one. Files are written to a temp name and renamed so
// a crash never leaves a half-written snapshot behind the manifest.
type FileStore struct {
	dir       string
	keep      int
	validator *validation.SchemaValidator
	logger    *logrus.Logger
	mu        sync.Mutex
}

// NewFileStore creates the directory if needed. keep is the number of
// snapshot files retained; values below 1 keep only the latest.
func NewFileStore(dir string, keep int, validator *validation.SchemaValidator, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if validator == nil {
		v, err := validation.NewSchemaValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileStore{dir: dir, keep: max(keep, 1), validator: validator, logger: logger}, nil
}

// Save writes snap as the next numbered file and repoints the manifest.
func (s *FileStore) Save(ctx context.Context, snap *ml.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, sum, err := Marshal(snap)
	if err != nil {
		return err
	}

	versions, err := s.versions()
	if err != nil {
		return err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}
	file := snapshotPrefix + strconv.Itoa(next) + snapshotExt

	if err := writeAtomic(filepath.Join(s.dir, file), data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	manifest := Manifest{
		RunID:         snap.RunID,
		FormatVersion: int(FormatVersion),
		File:          file,
		Checksum:      sum,
		SizeBytes:     int64(len(data)),
		TrainedAt:     snap.TrainedAt.UTC(),
		SavedAt:       time.Now().UTC(),
		ConfigHash:    snap.ConfigHash,
		Users:         len(snap.UserIDs),
		Items:         len(snap.Catalog),
		Ratings:       len(snap.Ratings),
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.validator.ValidateManifest(raw).Err(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, manifestName), raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     snap.RunID,
		"file":       file,
		"size_bytes": len(data),
	}).Info("Snapshot saved")

	s.prune(append(versions, next))
	return nil
}

// Load reads the snapshot the manifest points at.
func (s *FileStore) Load(ctx context.Context) (*ml.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.readManifest()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, manifest.File))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", manifest.File, err)
	}
	sum, err := Checksum(data)
	if err != nil {
		return nil, err
	}
	if sum != manifest.Checksum {
		return nil, fmt.Errorf("%w: %s does not match manifest checksum", ErrCorruptSnapshot, manifest.File)
	}
	return Unmarshal(data)
}

// Manifest returns the current manifest.
func (s *FileStore) Manifest() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readManifest()
}

func (s *FileStore) readManifest() (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := s.validator.ValidateManifest(raw).Err(); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptSnapshot, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptSnapshot, err)
	}
	return &m, nil
}

// versions returns the snapshot numbers present, ascending.
func (s *FileStore) versions() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan snapshot directory: %w", err)
	}
	var out []int
	for _, entry := range entries {
		if v, ok := parseSnapshotName(entry.Name()); ok && !entry.IsDir() {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *FileStore) prune(versions []int) {
	if len(versions) <= s.keep {
		return
	}
	for _, v := range versions[:len(versions)-s.keep] {
		path := filepath.Join(s.dir, snapshotPrefix+strconv.Itoa(v)+snapshotExt)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WithError(err).WithField("file", path).Warn("Failed to prune snapshot")
		}
	}
}

func parseSnapshotName(name string) (int, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
