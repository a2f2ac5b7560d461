// Package store keeps computed hashes on disk so images seen before are not
// decoded again and so the set of known hashes survives restarts.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

var ErrNotFound = errors.New("record not found")

type Options struct {
	// Dir is where the database lives, ignored when InMemory is set
	Dir      string
	InMemory bool
}

// Record is what is kept for each distinct image content.
type Record struct {
	Hash    string `cbor:"1,keyasint"`
	Kind    string `cbor:"2,keyasint"`
	Format  string `cbor:"3,keyasint,omitempty"`
	Width   int    `cbor:"4,keyasint,omitempty"`
	Height  int    `cbor:"5,keyasint,omitempty"`
	Source  string `cbor:"6,keyasint,omitempty"`
	Created int64  `cbor:"7,keyasint"`
}

// RecordKey addresses a Record by the digest of the image bytes.
type RecordKey struct {
	Digest string `cbor:"0,keyasint"`
}

// HashKey indexes a rendered hash back to the digest it was first seen with.
type HashKey struct {
	Hash string `cbor:"0,keyasint"`
}

type Store struct {
	db *badger.DB
}

// Digest identifies image content independent of its name or metadata.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("store directory cannot be empty")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Keys are the type name followed by the cbor encoding of the key, this keeps
// each key type under its own prefix for iteration.
func encodeKeyWithType(obj any) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 64))
	buf.Write(typePrefix(obj))
	err := cbor.NewEncoder(buf).Encode(obj)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func typePrefix(obj any) []byte {
	return []byte(reflect.TypeOf(obj).Name() + ",")
}

func (s *Store) Get(digest string) (rec Record, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKeyWithType(RecordKey{Digest: digest}))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	return
}

// Put stores rec under digest and indexes its hash.
func (s *Store) Put(digest string, rec Record) error {
	val, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(encodeKeyWithType(RecordKey{Digest: digest}), val); err != nil {
			return err
		}
		hk := encodeKeyWithType(HashKey{Hash: rec.Hash})
		_, err := txn.Get(hk)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(hk, []byte(digest))
		}
		return err
	})
}

// Has reports whether any stored record carries hash.
func (s *Store) Has(hash string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(encodeKeyWithType(HashKey{Hash: hash}))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Hashes lists every distinct hash in the store.
func (s *Store) Hashes() ([]string, error) {
	var hashes []string
	prefix := typePrefix(HashKey{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			var hk HashKey
			if err := cbor.Unmarshal(key[len(prefix):], &hk); err != nil {
				return fmt.Errorf("decode hash key: %w", err)
			}
			hashes = append(hashes, hk.Hash)
		}
		return nil
	})
	return hashes, err
}
