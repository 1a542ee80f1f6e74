package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger key layout:
//
//	<key>:item:<seq20>    list entry, zero-padded sequence -> value
//	<key>:member:<member> set membership marker
//	<key>:field:<field>   hash field -> value
//
// Zero-padded sequence numbers make byte order match insertion order, so
// the oldest list entry is the first key under the prefix and the newest
// is the last.

// BadgerBroker implements Broker on an embedded BadgerDB. Claims are
// serializable transactions with conflict retry, so one popped value goes
// to exactly one caller even across concurrent in-process consumers.
type BadgerBroker struct {
	db           *badger.DB
	pollInterval time.Duration
	ownsDB       bool

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

// NewBadgerBroker wraps an existing Badger database. The caller retains
// ownership of the database lifecycle.
func NewBadgerBroker(db *badger.DB, pollInterval time.Duration) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	return &BadgerBroker{
		db:           db,
		pollInterval: pollInterval,
		seqs:         make(map[string]*badger.Sequence),
	}, nil
}

// OpenBadgerBroker opens (and owns) a Badger database at path.
func OpenBadgerBroker(path string, pollInterval time.Duration) (*BadgerBroker, error) {
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badger.DefaultOptions(path)
	options.Logger = nil // Disable default badger logger to use arbor

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	b, err := NewBadgerBroker(db, pollInterval)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// Ping verifies the database is open and readable.
func (b *BadgerBroker) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return b.db.View(func(txn *badger.Txn) error {
		return nil
	})
}

// ListPush appends a value to a list.
func (b *BadgerBroker) ListPush(ctx context.Context, key, value string) error {
	seq, err := b.sequence(key)
	if err != nil {
		return err
	}
	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("failed to advance list sequence: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(listItemKey(key, n), []byte(value))
	})
}

// ListPop removes the oldest value from a list, blocking up to timeout.
func (b *BadgerBroker) ListPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		value, ok, err := b.popOnce(key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return value, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		wait := b.pollInterval
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// popOnce claims the oldest list entry in a single transaction. Concurrent
// claimers racing for the same entry abort with ErrConflict and retry, so
// each entry is delivered exactly once.
func (b *BadgerBroker) popOnce(key string) (string, bool, error) {
	prefix := listItemPrefix(key)

	for {
		var value string
		found := false

		err := b.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Seek(prefix)
			if !it.ValidForPrefix(prefix) {
				return nil
			}

			itemKey := it.Item().KeyCopy(nil)
			it.Close()

			// Re-read through Get so the claim is in the conflict set
			item, err := txn.Get(itemKey)
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(itemKey); err != nil {
				return err
			}

			value = string(val)
			found = true
			return nil
		})

		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return value, found, nil
	}
}

// ListRange returns up to count values, newest first.
func (b *BadgerBroker) ListRange(ctx context.Context, key string, count int64) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	prefix := listItemPrefix(key)
	values := make([]string, 0, count)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the last key under the prefix
		for it.Seek(seekPastPrefix(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if int64(len(values)) >= count {
				break
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, string(val))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// ListTrim discards all but the maxLen most recently pushed values.
func (b *BadgerBroker) ListTrim(ctx context.Context, key string, maxLen int64) error {
	if maxLen < 0 {
		return nil
	}

	prefix := listItemPrefix(key)

	return b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var kept int64
		var stale [][]byte
		for it.Seek(seekPastPrefix(prefix)); it.ValidForPrefix(prefix); it.Next() {
			kept++
			if kept > maxLen {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLen returns the number of values in a list.
func (b *BadgerBroker) ListLen(ctx context.Context, key string) (int64, error) {
	return b.countPrefix(listItemPrefix(key))
}

// SetAdd adds a member to a set.
func (b *BadgerBroker) SetAdd(ctx context.Context, key, member string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(setMemberKey(key, member), []byte{})
	})
}

// SetRemove removes a member from a set.
func (b *BadgerBroker) SetRemove(ctx context.Context, key, member string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(setMemberKey(key, member))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// SetCard returns the number of members in a set.
func (b *BadgerBroker) SetCard(ctx context.Context, key string) (int64, error) {
	return b.countPrefix(setMemberPrefix(key))
}

// SetMembers returns all members of a set.
func (b *BadgerBroker) SetMembers(ctx context.Context, key string) ([]string, error) {
	prefix := setMemberPrefix(key)
	var members []string

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			members = append(members, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// HashSet writes fields into a hash, preserving unspecified fields.
func (b *BadgerBroker) HashSet(ctx context.Context, key string, fields map[string]string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for field, value := range fields {
			if err := txn.Set(hashFieldKey(key, field), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// HashGet reads a single hash field.
func (b *BadgerBroker) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashFieldKey(key, field))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(val)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// HashGetAll returns all fields of a hash.
func (b *BadgerBroker) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	prefix := hashFieldPrefix(key)
	fields := make(map[string]string)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			field := string(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			fields[field] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// HashDelete removes fields from a hash.
func (b *BadgerBroker) HashDelete(ctx context.Context, key string, fields ...string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, field := range fields {
			err := txn.Delete(hashFieldKey(key, field))
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// Close releases sequences and, when this broker opened the database,
// closes it.
func (b *BadgerBroker) Close() error {
	b.seqMu.Lock()
	for _, seq := range b.seqs {
		seq.Release()
	}
	b.seqs = make(map[string]*badger.Sequence)
	b.seqMu.Unlock()

	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

func (b *BadgerBroker) sequence(key string) (*badger.Sequence, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	if seq, ok := b.seqs[key]; ok {
		return seq, nil
	}
	seq, err := b.db.GetSequence([]byte(key+":seq"), 128)
	if err != nil {
		return nil, fmt.Errorf("failed to open list sequence: %w", err)
	}
	b.seqs[key] = seq
	return seq, nil
}

func (b *BadgerBroker) countPrefix(prefix []byte) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func listItemKey(key string, seq uint64) []byte {
	// Zero pad to 20 digits so string sorting works like number sorting
	return []byte(fmt.Sprintf("%s:item:%020d", key, seq))
}

func listItemPrefix(key string) []byte {
	return []byte(key + ":item:")
}

func setMemberKey(key, member string) []byte {
	return []byte(key + ":member:" + member)
}

func setMemberPrefix(key string) []byte {
	return []byte(key + ":member:")
}

func hashFieldKey(key, field string) []byte {
	return []byte(key + ":field:" + field)
}

func hashFieldPrefix(key string) []byte {
	return []byte(key + ":field:")
}

func seekPastPrefix(prefix []byte) []byte {
	return append(bytes.Clone(prefix), 0xFF)
}
