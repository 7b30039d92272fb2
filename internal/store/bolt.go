package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/power-watchdog/internal/watchdog"
)

var bucketEvents = []byte("events")

// BoltJournal implements Journal using BoltDB. Keys are big-endian
// sequence numbers so cursor order is insertion order.
type BoltJournal struct {
	db   *bolt.DB
	keep int
}

// NewBoltJournal opens or creates a BoltDB database that retains the
// most recent keep events.
func NewBoltJournal(path string, keep int) (*BoltJournal, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltJournal{db: db, keep: keep}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Append stores e and prunes the oldest entries beyond the retention limit.
func (j *BoltJournal) Append(e watchdog.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		if seq <= uint64(j.keep) {
			return nil
		}
		// Keys are contiguous: pruning only ever removes from the front.
		cutoff := seq - uint64(j.keep)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns up to n events, newest first.
func (j *BoltJournal) Recent(n int) ([]watchdog.Event, error) {
	events := []watchdog.Event{}
	if n <= 0 {
		return events, nil
	}
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(events) < n; k, v = c.Prev() {
			var e watchdog.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

// Len returns the number of stored events.
func (j *BoltJournal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		first, _ := c.First()
		last, _ := c.Last()
		if first != nil {
			n = int(binary.BigEndian.Uint64(last)-binary.BigEndian.Uint64(first)) + 1
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (j *BoltJournal) Close() error {
	return j.db.Close()
}
