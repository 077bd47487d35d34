package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/session"
	"github.com/getsentry/orbit/internal/storageprovider"
)

const (
	sessionPrefix    = "s/"
	eventPrefix      = "e/"
	attachmentPrefix = "a/"
	exitPrefix       = "x/"
	objectPrefix     = "o/"
	sequenceKey      = "seq/events"
)

const (
	flagSampled byte = 1 << iota
)

type (
	// Store is the durable, append only event store. Every write is
	// synced to disk before it returns.
	Store struct {
		db  *badger.DB
		seq *badger.Sequence
		// sessions caches decoded sessions, the exporter reads them for every report.
		sessions *ristretto.Cache

		// Writes are serialized so the database never sees concurrent writers.
		mu sync.Mutex
	}

	storedAttachment struct {
		EventID    string           `json:"event_id"`
		Attachment event.Attachment `json:"attachment"`
	}
)

// Open opens the store in dir, or in memory when dir is empty.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 1000)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, seq: seq, sessions: cache}, nil
}

// Objects exposes a key value area of the store for small blobs such as
// the cached config.
func (s *Store) Objects() *storageprovider.Badger {
	return &storageprovider.Badger{DB: s.db, Prefix: objectPrefix}
}

func (s *Store) Close() error {
	s.sessions.Close()
	err := s.seq.Release()
	if err != nil {
		log.Warn().Err(err).Msg("releasing event sequence")
	}
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func eventKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", eventPrefix, sessionID, seq))
}

func attachmentKey(sessionID string, seq uint64, n int) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%d", attachmentPrefix, sessionID, seq, n))
}

func (s *Store) StoreSession(ctx context.Context, sess session.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.ID), b)
	})
	if err != nil {
		return err
	}
	s.sessions.Set(sess.ID, sess, 1)
	return nil
}

// StoreEvent writes the event and its attachments in one transaction. The
// event's session must already be stored.
func (s *Store) StoreEvent(ctx context.Context, e event.Event) error {
	for _, a := range e.Attachments {
		if a.Bytes() == nil && a.Path() == "" {
			return fmt.Errorf("%w: %q", errorutil.ErrInvalidAttachment, a.Name())
		}
	}
	fragment, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %v", errorutil.ErrDataIntegrity, err)
	}
	var flags byte
	if e.Sampled {
		flags |= flagSampled
	}
	value := append([]byte{flags}, fragment...)

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.seq.Next()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(e.SessionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", errorutil.ErrSessionNotFound, e.SessionID)
			}
			return err
		}
		err = txn.Set(eventKey(e.SessionID, seq), value)
		if err != nil {
			return err
		}
		for i, a := range e.Attachments {
			b, err := json.Marshal(storedAttachment{EventID: e.ID, Attachment: a})
			if err != nil {
				return err
			}
			err = txn.Set(attachmentKey(e.SessionID, seq, i), b)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Session(ctx context.Context, id string) (session.Session, error) {
	if v, ok := s.sessions.Get(id); ok {
		return v.(session.Session), nil
	}
	var sess session.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return session.Session{}, fmt.Errorf("%w: %s", errorutil.ErrSessionNotFound, id)
		}
		return session.Session{}, err
	}
	s.sessions.Set(id, sess, 1)
	return sess, nil
}

func (s *Store) updateSession(ctx context.Context, id string, update func(*session.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess session.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
		if err != nil {
			return err
		}
		update(&sess)
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(id), b)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", errorutil.ErrSessionNotFound, id)
		}
		return err
	}
	s.sessions.Del(id)
	s.sessions.Wait()
	return nil
}

func (s *Store) MarkSessionCrashed(ctx context.Context, id string) error {
	return s.updateSession(ctx, id, func(sess *session.Session) { sess.Crashed = true })
}

func (s *Store) MarkSynced(ctx context.Context, id string) error {
	return s.updateSession(ctx, id, func(sess *session.Session) { sess.Synced = true })
}

// StoreExitRecord saves the record placed first in the session's report.
func (s *Store) StoreExitRecord(ctx context.Context, e event.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(e.SessionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", errorutil.ErrSessionNotFound, e.SessionID)
			}
			return err
		}
		return txn.Set([]byte(exitPrefix+e.SessionID), b)
	})
}

// ExitRecord returns nil when the session has none.
func (s *Store) ExitRecord(ctx context.Context, id string) ([]byte, error) {
	var record []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(exitPrefix + id))
		if err != nil {
			return err
		}
		record, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return record, err
}

func (s *Store) sessionsMatching(ctx context.Context, keep func(session.Session) bool) ([]session.Session, error) {
	var sessions []session.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sess session.Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				return err
			}
			if keep(sess) {
				sessions = append(sessions, sess)
			}
		}
		return nil
	})
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime < sessions[j].StartTime
	})
	return sessions, err
}

// UnsyncedSessions lists sessions not yet acknowledged by the backend,
// oldest first, excluding activeID.
func (s *Store) UnsyncedSessions(ctx context.Context, activeID string) ([]session.Session, error) {
	return s.sessionsMatching(ctx, func(sess session.Session) bool {
		return !sess.Synced && sess.ID != activeID
	})
}

// IterateEvents calls fn with every event fragment of the session, in the
// order they were stored.
func (s *Store) IterateEvents(ctx context.Context, sessionID string, fn func(fragment []byte, sampled bool) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix + sessionID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				if len(val) < 2 {
					return fmt.Errorf("%w: empty event record", errorutil.ErrDataIntegrity)
				}
				return fn(val[1:], val[0]&flagSampled != 0)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Attachments(ctx context.Context, sessionID string) ([]event.Attachment, error) {
	var attachments []event.Attachment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(attachmentPrefix + sessionID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var a storedAttachment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			attachments = append(attachments, a.Attachment)
		}
		return nil
	})
	return attachments, err
}

// DeleteSession removes the session with its events and attachments,
// including attachment files on disk.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	attachments, err := s.Attachments(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, prefix := range []string{eventPrefix + id + "/", attachmentPrefix + id + "/"} {
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				if err := wb.Delete(it.Item().KeyCopy(nil)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range [][]byte{sessionKey(id), []byte(exitPrefix + id)} {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	err = wb.Flush()
	if err != nil {
		return err
	}
	s.sessions.Del(id)
	s.sessions.Wait()
	for _, a := range attachments {
		if a.Path() == "" {
			continue
		}
		if err := os.Remove(a.Path()); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", a.Path()).Msg("couldn't remove attachment file")
		}
	}
	return nil
}

// DeleteSyncedSessions removes sessions acknowledged by the backend but not
// deleted yet, such as after the process died mid export.
func (s *Store) DeleteSyncedSessions(ctx context.Context) (int, error) {
	sessions, err := s.sessionsMatching(ctx, func(sess session.Session) bool { return sess.Synced })
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, sessions)
}

// DeleteExpiredSessions removes sessions started before the given time,
// whether synced or not, except activeID.
func (s *Store) DeleteExpiredSessions(ctx context.Context, before int64, activeID string) (int, error) {
	sessions, err := s.sessionsMatching(ctx, func(sess session.Session) bool {
		return sess.StartTime < before && sess.ID != activeID
	})
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, sessions)
}

func (s *Store) deleteAll(ctx context.Context, sessions []session.Session) (int, error) {
	var deleted int
	var errs []string
	for _, sess := range sessions {
		if err := s.DeleteSession(ctx, sess.ID); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		deleted++
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("deleting sessions: %s", strings.Join(errs, "; "))
	}
	return deleted, nil
}
