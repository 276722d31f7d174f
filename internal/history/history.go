// Package history keeps a bounded log of completed doses in a bbolt file.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/pump"
)

var bucketDoses = []byte("doses")

// DefaultRetain is the number of doses kept when no limit is configured.
const DefaultRetain = 1000

// Entry is a stored dose.
type Entry struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Trigger    string    `json:"trigger"`
	Speed      int       `json:"speed"`
	DurationMs int64     `json:"durationMs"`
	Started    time.Time `json:"started"`
	Parameter  string    `json:"parameter,omitempty"`
	Value      float64   `json:"value,omitempty"`
	Threshold  int       `json:"threshold,omitempty"`
}

func entryFromEvent(ev pump.DoseEvent) Entry {
	return Entry{
		ID:         ev.ID,
		Device:     ev.Device,
		Trigger:    string(ev.Trigger),
		Speed:      ev.Speed,
		DurationMs: ev.Duration.Milliseconds(),
		Started:    ev.Started.UTC(),
		Parameter:  ev.Parameter,
		Value:      ev.Value,
		Threshold:  ev.Threshold,
	}
}

// Store is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	retain int
}

// Open opens or creates the history file. retain <= 0 uses DefaultRetain.
func Open(path string, retain int) (*Store, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDoses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}
	return &Store{db: db, retain: retain}, nil
}

// Close releases the file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a dose and prunes the oldest entries beyond the retention limit.
func (s *Store) Record(ev pump.DoseEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDoses)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e := entryFromEvent(ev)
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), data); err != nil {
			return err
		}
		return prune(b, s.retain)
	})
}

func prune(b *bolt.Bucket, retain int) error {
	excess := count(b) - retain
	if excess <= 0 {
		return nil
	}
	stale := make([][]byte, 0, excess)
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDoses).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Count returns the number of stored doses.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = count(tx.Bucket(bucketDoses))
		return nil
	})
	return n, err
}

func (s *Store) ObserveConfig(string, pump.Config) {}

func (s *Store) ObserveEvaluation(pump.Evaluation) {}

// ObserveDose records the dose, logging failures.
func (s *Store) ObserveDose(ev pump.DoseEvent) {
	if err := s.Record(ev); err != nil {
		logging.Error("recording dose failed", "device", ev.Device, "id", ev.ID, "error", err)
	}
}

// count walks the bucket so keys written earlier in the same transaction
// are included.
func count(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
