// Package history keeps a journal of composite readings in a bbolt
// database, keyed by timestamp so cursor order is time order.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ericogr/water-monitor/pkg/sensor"
)

const BucketName = "readings"

type Store struct {
	db     *bbolt.DB
	retain int
	// count is only touched inside write transactions.
	count int
}

// Open opens or creates the journal at path. retain caps the number of
// readings kept; 0 keeps everything.
func Open(path string, retain int) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	s := &Store{db: db, retain: retain}
	if err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(BucketName))
		if err != nil {
			return err
		}
		s.count = b.Stats().KeyN
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func key(ts time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(ts.UnixNano()))
	return k
}

// Publish appends r. A reading with the same timestamp replaces the
// stored one.
func (s *Store) Publish(r sensor.Readings) error {
	v, err := json.Marshal(r)
	if err != nil {
		return err
	}
	n := s.count
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		k := key(r.Timestamp)
		fresh := b.Get(k) == nil
		if err := b.Put(k, v); err != nil {
			return err
		}
		if fresh {
			n++
		}
		return s.trim(b, &n)
	})
	if err != nil {
		return err
	}
	// a rolled back transaction leaves the count alone
	s.count = n
	return nil
}

func (s *Store) trim(b *bbolt.Bucket, n *int) error {
	if s.retain <= 0 {
		return nil
	}
	c := b.Cursor()
	for k, _ := c.First(); k != nil && *n > s.retain; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return err
		}
		*n--
	}
	return nil
}

// Latest returns the newest reading; false when the journal is empty.
func (s *Store) Latest() (sensor.Readings, bool, error) {
	rs, err := s.Recent(1)
	if err != nil || len(rs) == 0 {
		return sensor.Readings{}, false, err
	}
	return rs[0], true, nil
}

// Recent returns up to n readings, newest first. n <= 0 returns all of them.
func (s *Store) Recent(n int) ([]sensor.Readings, error) {
	var out []sensor.Readings
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) == n {
				break
			}
			var r sensor.Readings
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode reading %x: %w", k, err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Len is the number of stored readings.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(BucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }
