// Package store persists the outcome of ABA and ACSS sessions in a bolt
// database, one bucket per protocol keyed by session id.
package store

import (
	"encoding/binary"
	"path"

	"github.com/zhazhalaila/AsyncDKG/log"
	"github.com/zhazhalaila/AsyncDKG/message"
	"github.com/zhazhalaila/AsyncDKG/party"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

const (
	FileName = "adkg.db"
	OpenPerm = 0660
)

var (
	abaBucket  = []byte("aba")
	acssBucket = []byte("acss")
)

// ErrNotFound is returned when a session has no record.
var ErrNotFound = xerrors.New("record not found")

// Store keeps decisions and shares across restarts.
type Store struct {
	db     *bolt.DB
	logger log.Logger
}

// Open opens (or creates) the database under folder.
func Open(folder string, logger log.Logger, options *bolt.Options) (*Store, error) {
	db, err := bolt.Open(path.Join(folder, FileName), OpenPerm, options)
	if err != nil {
		return nil, xerrors.Errorf("opening store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(abaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(acssBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func key(sid party.SessionID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(sid))
	return buf
}

// SaveDecision records the decision of an ABA session.
func (s *Store) SaveDecision(rec *message.DecisionRecord) error {
	return s.put(abaBucket, party.SessionID(rec.Session), rec)
}

// Decision returns the decision of session sid.
func (s *Store) Decision(sid party.SessionID) (*message.DecisionRecord, error) {
	buf, err := s.get(abaBucket, sid)
	if err != nil {
		return nil, err
	}
	return message.Decode[message.DecisionRecord](buf)
}

// SaveShare records the output of an ACSS session.
func (s *Store) SaveShare(rec *message.ShareRecord) error {
	return s.put(acssBucket, party.SessionID(rec.Session), rec)
}

// Share returns the ACSS output of session sid.
func (s *Store) Share(sid party.SessionID) (*message.ShareRecord, error) {
	buf, err := s.get(acssBucket, sid)
	if err != nil {
		return nil, err
	}
	return message.Decode[message.ShareRecord](buf)
}

// Shares returns every stored ACSS output, ordered by session id.
func (s *Store) Shares() ([]*message.ShareRecord, error) {
	var recs []*message.ShareRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(acssBucket).ForEach(func(_, v []byte) error {
			rec, err := message.Decode[message.ShareRecord](v)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

func (s *Store) put(bucket []byte, sid party.SessionID, v interface{}) error {
	buf, err := message.Encode(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key(sid), buf)
	})
}

func (s *Store) get(bucket []byte, sid party.SessionID) ([]byte, error) {
	var buf []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key(sid))
		if v == nil {
			return xerrors.Errorf("%s session %d: %w", bucket, sid, ErrNotFound)
		}
		// bolt values are only valid inside the transaction
		buf = append([]byte(nil), v...)
		return nil
	})
	return buf, err
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Errorw("", "boltdb", "close", "err", err)
		return err
	}
	return nil
}
