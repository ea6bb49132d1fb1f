// Package pebble keeps confirmed room history in an embedded Pebble store
// so a restarted session can render rooms before the network answers.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/repository"
	"github.com/vedran77/pulsesync/internal/security"
	"go.uber.org/zap"
)

const (
	roomPrefix  = "room:"
	indexPrefix = "idx:room:"
	saltKey     = "meta:salt"
)

var _ repository.ArchiveRepository = (*Archive)(nil)

type Archive struct {
	db     *pebble.DB
	sealer *security.Sealer
	log    *zap.Logger
}

// Open opens (or creates) the archive at path. A non-empty passphrase
// seals every stored message.
func Open(path, passphrase string, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	a := &Archive{db: db, log: log}

	if passphrase != "" {
		salt, err := a.salt()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if a.sealer, err = security.NewSealer(passphrase, salt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	log.Info("pebble_opened", zap.String("path", path), zap.Bool("sealed", a.sealer != nil))
	return a, nil
}

// salt returns the stored key derivation salt, creating it on first use.
func (a *Archive) salt() ([]byte, error) {
	v, closer, err := a.db.Get([]byte(saltKey))
	if err == nil {
		defer closer.Close()
		return slices.Clone(v), nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return nil, err
	}
	salt, err := security.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := a.db.Set([]byte(saltKey), salt, pebble.Sync); err != nil {
		return nil, err
	}
	return salt, nil
}

func messagePrefix(room string) []byte {
	return []byte(roomPrefix + room + ":msg:")
}

func messageKey(room string, m *domain.ChatMessage) []byte {
	return []byte(fmt.Sprintf("%s%s:msg:%020d:%s", roomPrefix, room, m.TimeStamp, m.Code))
}

// upper is the smallest key greater than every key with the given prefix.
func upper(prefix []byte) []byte {
	return append(slices.Clone(prefix), 0xff)
}

// SaveRoom replaces the stored snapshot of room with msgs.
func (a *Archive) SaveRoom(_ context.Context, room string, msgs []domain.ChatMessage) error {
	prefix := messagePrefix(room)
	b := a.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(prefix, upper(prefix), nil); err != nil {
		return err
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Code == "" {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", m.Code, err)
		}
		key := messageKey(room, m)
		if a.sealer != nil {
			if data, err = a.sealer.Seal(data, key); err != nil {
				return err
			}
		}
		if err := b.Set(key, data, nil); err != nil {
			return err
		}
	}
	if err := b.Set([]byte(indexPrefix+room), nil, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		a.log.Error("archive_save_failed", zap.String("room", room), zap.Error(err))
		return err
	}
	a.log.Debug("archive_saved", zap.String("room", room), zap.Int("messages", len(msgs)))
	return nil
}

// LoadRoom returns the stored messages of room, oldest first.
func (a *Archive) LoadRoom(_ context.Context, room string) ([]domain.ChatMessage, error) {
	prefix := messagePrefix(room)
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.ChatMessage
	for iter.First(); iter.Valid(); iter.Next() {
		v := slices.Clone(iter.Value())
		if a.sealer != nil {
			if v, err = a.sealer.Open(v, iter.Key()); err != nil {
				return nil, fmt.Errorf("room %s: %w", room, err)
			}
		}
		var m domain.ChatMessage
		if err := json.Unmarshal(v, &m); err != nil {
			a.log.Warn("archive_bad_record", zap.String("room", room), zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

func (a *Archive) Rooms(context.Context) ([]string, error) {
	prefix := []byte(indexPrefix)
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), indexPrefix))
	}
	return out, iter.Error()
}

// Clear removes every room. The key derivation salt is kept.
func (a *Archive) Clear(context.Context) error {
	b := a.db.NewBatch()
	defer b.Close()
	for _, p := range [][]byte{[]byte(roomPrefix), []byte(indexPrefix)} {
		if err := b.DeleteRange(p, upper(p), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	a.log.Info("pebble_closed")
	return err
}
