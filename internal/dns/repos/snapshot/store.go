// Package snapshot persists the record store to a bbolt file so a restarted
// resolver starts warm. Each value is the message buffer with TTLs refreshed
// at save time, prefixed by the save time in big-endian Unix nanoseconds.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
	"github.com/haukened/rr-cache/internal/dns/repos/recordcache"
)

// ErrPersistenceUnavailable wraps every failure to open, read or write the
// snapshot file. Callers treat it as non-fatal and run without persistence.
var ErrPersistenceUnavailable = errors.New("cache persistence unavailable")

var (
	bucketAddress    = []byte("a")
	bucketNameServer = []byte("ns")
	bucketMeta       = []byte("meta")

	metaVersion = []byte("version")
	metaUpdated = []byte("updated")
)

const (
	stampSize     = 8
	corruptSuffix = ".corrupt"
)

// Decoder turns a stored buffer back into a message. The wire codec
// satisfies it.
type Decoder interface {
	Decode(data []byte, now time.Time) (*domain.Message, error)
}

// Cache is the part of the record store a snapshot reads from and restores into.
type Cache interface {
	Snapshot(now time.Time) []recordcache.Entry
	Insert(t domain.RRType, name string, msg *domain.Message) error
}

// Record is one persisted message.
type Record struct {
	Type    domain.RRType
	Name    string
	SavedAt time.Time
	Data    []byte
}

// Meta describes the last successful save.
type Meta struct {
	Version uint64
	Updated time.Time
}

// Store is a bbolt-backed snapshot file.
type Store struct {
	db     *bbolt.DB
	logger log.Logger
}

// Open opens (or creates) the snapshot file at path and ensures buckets exist.
// Missing parent directories are created. A file bbolt rejects as invalid is
// moved aside to path+".corrupt" and replaced with an empty one. A file locked
// by another process fails after one second.
func Open(path string, logger log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrPersistenceUnavailable, filepath.Dir(path), err)
	}
	db, err := openDB(path)
	if isCorrupt(err) {
		aside := path + corruptSuffix
		logger.Warn(map[string]any{"path": path, "moved_to": aside, "error": err}, "Snapshot file is invalid, starting a new one")
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("%w: move aside %s: %v", ErrPersistenceUnavailable, path, rerr)
		}
		db, err = openDB(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistenceUnavailable, path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAddress, bucketNameServer, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init %s: %v", ErrPersistenceUnavailable, path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func openDB(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
}

func isCorrupt(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrChecksum) ||
		errors.Is(err, berrors.ErrVersionMismatch)
}

func (s *Store) Close() error { return s.db.Close() }

func bucketFor(t domain.RRType) ([]byte, bool) {
	switch t {
	case domain.RRTypeA:
		return bucketAddress, true
	case domain.RRTypeNS:
		return bucketNameServer, true
	default:
		return nil, false
	}
}

// Save replaces the snapshot contents with the current cache entries.
func (s *Store) Save(cache Cache, now time.Time) (int, error) {
	entries := cache.Snapshot(now)
	stamp := make([]byte, stampSize)
	binary.BigEndian.PutUint64(stamp, uint64(now.UnixNano()))

	written := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAddress, bucketNameServer} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		for _, e := range entries {
			name, ok := bucketFor(e.Type)
			if !ok {
				continue
			}
			v := make([]byte, 0, stampSize+len(e.Data))
			v = append(v, stamp...)
			v = append(v, e.Data...)
			if err := tx.Bucket(name).Put([]byte(e.Name), v); err != nil {
				return err
			}
			written++
		}

		meta := tx.Bucket(bucketMeta)
		version := uint64(0)
		if v := meta.Get(metaVersion); len(v) == 8 {
			version = binary.BigEndian.Uint64(v)
		}
		vbuf := make([]byte, 8)
		binary.BigEndian.PutUint64(vbuf, version+1)
		if err := meta.Put(metaVersion, vbuf); err != nil {
			return err
		}
		return meta.Put(metaUpdated, stamp)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: save: %v", ErrPersistenceUnavailable, err)
	}
	return written, nil
}

// Load returns every persisted record. Values too short to carry a save
// time are skipped.
func (s *Store) Load() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, t := range []domain.RRType{domain.RRTypeA, domain.RRTypeNS} {
			name, _ := bucketFor(t)
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			if err := b.ForEach(func(k, v []byte) error {
				if len(v) <= stampSize {
					s.logger.Warn(map[string]any{"type": t.String(), "name": string(k)}, "Skipping truncated snapshot record")
					return nil
				}
				// bbolt values are only valid for the life of the transaction
				data := make([]byte, len(v)-stampSize)
				copy(data, v[stampSize:])
				out = append(out, Record{
					Type:    t,
					Name:    string(k),
					SavedAt: time.Unix(0, int64(binary.BigEndian.Uint64(v[:stampSize]))),
					Data:    data,
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrPersistenceUnavailable, err)
	}
	return out, nil
}

// Restore loads the snapshot into cache. Records are decoded relative to
// their save time so absolute expirations survive the restart; records
// already expired at now or failing to decode are skipped.
func (s *Store) Restore(cache Cache, decoder Decoder, now time.Time) (int, error) {
	records, err := s.Load()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, r := range records {
		msg, err := decoder.Decode(r.Data, r.SavedAt)
		if err != nil {
			s.logger.Warn(map[string]any{
				"type":  r.Type.String(),
				"name":  r.Name,
				"error": err,
			}, "Skipping undecodable snapshot record")
			continue
		}
		if msg.IsExpired(now) {
			continue
		}
		if err := cache.Insert(r.Type, r.Name, msg); err != nil {
			s.logger.Warn(map[string]any{"name": r.Name, "error": err}, "Skipping snapshot record")
			continue
		}
		restored++
	}
	return restored, nil
}

// Meta reports the version and time of the last save. A fresh file reports
// the zero Meta.
func (s *Store) Meta() Meta {
	m := Meta{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		if v := b.Get(metaVersion); len(v) == 8 {
			m.Version = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(metaUpdated); len(v) == 8 {
			m.Updated = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		}
		return nil
	})
	return m
}
