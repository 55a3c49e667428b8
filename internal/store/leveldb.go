package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

const (
	resourcePrefix = "r:"
	versionKey     = "meta:version"
)

// LevelDBStore persists resources and the version record in a local LevelDB
// database. Opening the path for the first time provisions it.
type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Put(ctx context.Context, res *Resource) error {
	b, err := encodeGob(res)
	if err != nil {
		return fmt.Errorf("encode resource %q: %w", res.URL, err)
	}
	if err := s.db.Put([]byte(resourcePrefix+res.URL), b, nil); err != nil {
		return fmt.Errorf("put resource %q: %w", res.URL, err)
	}
	return nil
}

func (s *LevelDBStore) Get(ctx context.Context, url string) (*Resource, error) {
	b, err := s.db.Get([]byte(resourcePrefix+url), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %q: %w", url, err)
	}
	var res Resource
	if err := decodeGob(b, &res); err != nil {
		return nil, fmt.Errorf("decode resource %q: %w", url, err)
	}
	return &res, nil
}

func (s *LevelDBStore) PutVersion(ctx context.Context, version string) error {
	rec := VersionRecord{
		Version:   version,
		CheckedAt: time.Now().Unix(),
	}
	b, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}
	if err := s.db.Put([]byte(versionKey), b, nil); err != nil {
		return fmt.Errorf("put version record: %w", err)
	}
	return nil
}

func (s *LevelDBStore) GetVersion(ctx context.Context) (VersionRecord, error) {
	b, err := s.db.Get([]byte(versionKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return VersionRecord{}, ErrNotFound
	}
	if err != nil {
		return VersionRecord{}, fmt.Errorf("get version record: %w", err)
	}
	var rec VersionRecord
	if err := decodeGob(b, &rec); err != nil {
		return VersionRecord{}, fmt.Errorf("decode version record: %w", err)
	}
	return rec, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
