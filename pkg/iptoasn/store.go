// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"ipasn/pkg/model"
	"ipasn/pkg/util/ipcodec"
)

// Store is a LevelDB snapshot of parsed range tables.
// Ranges are keyed by family prefix + big-endian start address, so an
// ordered scan of one prefix returns the table in address order.
type Store struct {
	db     *leveldb.DB
	mu     sync.RWMutex
	path   string
	closed bool
}

// storedRange is the msgpack value for one range; Start lives in the key
type storedRange struct {
	End         []byte `msgpack:"end"`
	ASN         uint32 `msgpack:"asn"`
	Country     string `msgpack:"country"`
	Description string `msgpack:"description"`
}

// OpenStore opens or creates the LevelDB database
func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.SnappyCompression,
		WriteBuffer: 32 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:   db,
		path: path,
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// IsClosed returns whether the database is closed
func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Path returns the database path
func (s *Store) Path() string {
	return s.path
}

// WriteTable replaces every stored range of t's family with the contents of t.
// Keys are start addresses, so a table failing CheckOrder cannot be stored
// as given; it is rejected with model.ErrUnorderedTable and the previous
// snapshot is left untouched.
func (s *Store) WriteTable(t *Table) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.ErrDatabaseClosed
	}
	if err := t.CheckOrder(); err != nil {
		return fmt.Errorf("cannot store %s table: %w", t.Family(), err)
	}

	prefix := ipcodec.RangePrefix(t.Family() == model.FamilyV4)
	batch := new(leveldb.Batch)

	// Drop the previous snapshot of this family
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan old ranges: %w", err)
	}

	for i := 0; i < t.Len(); i++ {
		r := t.At(i)
		value, err := msgpack.Marshal(&storedRange{
			End:         r.End.AsSlice(),
			ASN:         r.ASN,
			Country:     r.Country,
			Description: r.Description,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal range: %w", err)
		}
		batch.Put(ipcodec.EncodeRangeKey(r.Start), value)
	}

	return s.db.Write(batch, nil)
}

// Walk iterates over all ranges of a family in address order.
// fn returns false to stop early.
func (s *Store) Walk(ctx context.Context, family model.Family, fn func(r model.IPRange) (cont bool, err error)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.ErrDatabaseClosed
	}

	prefix := ipcodec.RangePrefix(family == model.FamilyV4)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := decodeRange(iter.Key(), iter.Value())
		if err != nil {
			return err
		}

		cont, err := fn(r)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}

	return iter.Error()
}

// LoadTable reads the stored table of a family. A family never written
// yields an empty table.
func (s *Store) LoadTable(ctx context.Context, family model.Family) (*Table, error) {
	var ranges []model.IPRange
	err := s.Walk(ctx, family, func(r model.IPRange) (bool, error) {
		ranges = append(ranges, r)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s table: %w", family, err)
	}
	return NewTable(family, ranges), nil
}

func decodeRange(key, value []byte) (model.IPRange, error) {
	start, err := ipcodec.DecodeRangeKey(key)
	if err != nil {
		return model.IPRange{}, fmt.Errorf("invalid key: %w", err)
	}

	var stored storedRange
	if err := msgpack.Unmarshal(value, &stored); err != nil {
		return model.IPRange{}, fmt.Errorf("failed to unmarshal range: %w", err)
	}

	end, ok := netip.AddrFromSlice(stored.End)
	if !ok {
		return model.IPRange{}, fmt.Errorf("invalid end address for %s", start)
	}

	return model.IPRange{
		Start:       start,
		End:         end,
		ASN:         stored.ASN,
		Country:     stored.Country,
		Description: stored.Description,
	}, nil
}

// SetMetadata sets a metadata value
func (s *Store) SetMetadata(key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.ErrDatabaseClosed
	}

	return s.db.Put(ipcodec.MetaKey(key), []byte(value), nil)
}

// GetMetadata gets a metadata value, "" if unset
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", model.ErrDatabaseClosed
	}

	data, err := s.db.Get(ipcodec.MetaKey(key), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// SetStats saves statistics
func (s *Store) SetStats(stats *model.Stats) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.ErrDatabaseClosed
	}

	data, err := msgpack.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	return s.db.Put(ipcodec.StatsKey("totals"), data, nil)
}

// GetStats retrieves statistics
func (s *Store) GetStats() (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, model.ErrDatabaseClosed
	}

	data, err := s.db.Get(ipcodec.StatsKey("totals"), nil)
	if err == leveldb.ErrNotFound {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var stats model.Stats
	if err := msgpack.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	return &stats, nil
}
