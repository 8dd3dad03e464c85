// Package store persists session records so instances survive a
// process restart. Records are plain JSON files under a state
// directory, one per instance, so operators can inspect live state
// with nothing but cat.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

const (
	recordSuffix    = ".json"
	tombstoneSuffix = ".tombstone.json"
)

// Store is a directory-backed session record store. Writes are
// idempotent upserts; the in-memory registry may briefly run ahead of
// the store but reconciliation on startup re-converges them.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+recordSuffix)
}

func (s *Store) tombstonePath(id string) string {
	return filepath.Join(s.dir, id+tombstoneSuffix)
}

// Persist upserts an instance record, tab records included
func (s *Store) Persist(rec models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.recordPath(rec.InstanceID), rec)
}

// Get loads one live record
func (s *Store) Get(id string) (models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.SessionRecord
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, fault.New(fault.KindNotFound, "no session record for instance %s", id)
		}
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("corrupt session record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the live record (cascading its embedded tab records)
// and writes a tombstone in its place
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, fingerprint := models.SessionRecord{}, ""
	if data, err := os.ReadFile(s.recordPath(id)); err == nil {
		if json.Unmarshal(data, &rec) == nil {
			fingerprint = rec.Fingerprint
		}
	}

	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return s.writeJSON(s.tombstonePath(id), models.Tombstone{
		InstanceID:   id,
		Fingerprint:  fingerprint,
		TerminatedAt: time.Now().UTC(),
	})
}

// MarkIdle records that an instance entered the idle pool
func (s *Store) MarkIdle(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fault.New(fault.KindNotFound, "no session record for instance %s", id)
		}
		return err
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("corrupt session record %s: %w", id, err)
	}

	rec.State = models.StateIdlePooled
	rec.LastActivity = at
	return s.writeJSON(path, rec)
}

// ListLive returns all live records, newest first. Corrupt files are
// skipped, never fatal.
func (s *Store) ListLive() ([]models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readLive(nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Probe reports whether the external process behind a record is still
// reachable
type Probe func(ctx context.Context, rec models.SessionRecord) bool

// Reconcile loads all persisted live records, probes each one's
// external process, purges the unreachable ones and returns the
// survivors. It must run before the registry accepts any create or
// destroy.
func (s *Store) Reconcile(ctx context.Context, probe Probe) ([]models.SessionRecord, error) {
	log := slogctx.FromCtx(ctx)

	s.mu.Lock()
	records, err := s.readLive(log)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	live := records[:0]
	for _, rec := range records {
		if probe(ctx, rec) {
			live = append(live, rec)
			continue
		}

		log.Warn("purging unreachable session record",
			slog.String("instance_id", rec.InstanceID),
			slog.String("container_id", rec.ContainerID))

		s.mu.Lock()
		if err := os.Remove(s.recordPath(rec.InstanceID)); err != nil && !os.IsNotExist(err) {
			log.Error("failed to purge session record",
				slog.String("instance_id", rec.InstanceID),
				slog.String("error", err.Error()))
		}
		s.mu.Unlock()
	}

	return live, nil
}

// ListTombstones returns destroy markers left behind by Delete
func (s *Store) ListTombstones() ([]models.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var stones []models.Tombstone
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tombstoneSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var stone models.Tombstone
		if json.Unmarshal(data, &stone) != nil {
			continue
		}
		stones = append(stones, stone)
	}
	return stones, nil
}

// PurgeTombstones removes all destroy markers, returning how many
func (s *Store) PurgeTombstones() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tombstoneSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			purged++
		}
	}
	return purged, nil
}

// readLive must be called with the store lock held
func (s *Store) readLive(log *slog.Logger) ([]models.SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var records []models.SessionRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, tombstoneSuffix) || !strings.HasSuffix(name, recordSuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if log != nil {
				log.Warn("skipping unreadable session record", slog.String("file", name))
			}
			continue
		}

		var rec models.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			// One corrupt record degrades only itself
			if log != nil {
				log.Warn("skipping corrupt session record",
					slog.String("file", name),
					slog.String("error", err.Error()))
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// writeJSON writes atomically via a temp file rename
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
