// Package history keeps a persistent log of controller events in a bbolt file.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/amp-controller/internal/logic"
)

const eventsBucket = "events"

// DefaultLimit is the number of events kept before the oldest are pruned.
const DefaultLimit = 10000

// Record is the stored form of an event.
type Record struct {
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Event        string    `json:"event"`
	State        string    `json:"state"`
	Power        string    `json:"power"`
	TemperatureC float64   `json:"temperature_c"`
}

// Store is an append-only event log. It is safe for concurrent use.
type Store struct {
	db    *bolt.DB
	limit uint64
}

// Open opens or creates the history file at path, keeping at most limit
// events (DefaultLimit if limit <= 0).
func Open(path string, limit int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create bucket: %w", err)
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{db: db, limit: uint64(limit)}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Append stores an event and prunes the oldest one past the limit.
func (s *Store) Append(ev logic.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(Record{
			Seq:          seq,
			Timestamp:    ev.Timestamp.UTC(),
			Event:        string(ev.Type),
			State:        string(ev.State),
			Power:        string(ev.Power),
			TemperatureC: ev.Temperature,
		})
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		if seq > s.limit {
			return b.Delete(itob(seq - s.limit))
		}
		return nil
	})
}

// Recent returns up to n events, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	records := []Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(eventsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return records, nil
}

// Counts tallies all stored events.
func (s *Store) Counts() (logic.EventCounts, error) {
	var counts logic.EventCounts
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(eventsBucket)).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			counts.Add(logic.EventType(r.Event))
			return nil
		})
	})
	if err != nil {
		return logic.EventCounts{}, fmt.Errorf("history: %w", err)
	}
	return counts, nil
}

// Len returns the number of stored events.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(eventsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
