package graph

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentbrain/agentbrain/internal/errors"
)

const boltFileName = "graph.db"

var (
	bucketEntities = []byte("entities")
	bucketTriples  = []byte("triples")
)

// BoltStore mirrors the in-memory graph into bbolt buckets. Traversal
// still runs against memory; the database is the durable snapshot that
// Persist and Load exchange.
type BoltStore struct {
	*memoryGraph
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the graph database under dir.
func NewBoltStore(dir string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o644, &bolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, errors.BackendUnavailable("open graph database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntities); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTriples)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.BackendUnavailable("initialize graph buckets", err)
	}
	return &BoltStore{memoryGraph: newMemoryGraph(), db: db, logger: logger}, nil
}

func (s *BoltStore) AddTriple(subject Entity, predicate string, object Entity, sourceChunkID string) error {
	if !Predicates[predicate] {
		return errors.New(errors.KindInvalidArgument, "unknown predicate: "+predicate)
	}
	if !EntityTypes[subject.Type] || !EntityTypes[object.Type] {
		return errors.New(errors.KindInvalidArgument, "unknown entity type: "+subject.Type+"/"+object.Type)
	}
	s.addTriple(subject, predicate, object, sourceChunkID)
	return nil
}

func (s *BoltStore) Entities() []Entity { return s.allEntities() }

func (s *BoltStore) Neighbors(entityID string, depth int) []Entity {
	return s.neighbors(entityID, depth)
}

func (s *BoltStore) Subgraph(seedIDs []string, depth int) []TraversalTriple {
	return s.subgraph(seedIDs, depth)
}

func (s *BoltStore) Clear() error {
	s.clear()
	return nil
}

// Persist rewrites both buckets from the in-memory snapshot in one
// transaction; bbolt makes the swap atomic.
func (s *BoltStore) Persist() error {
	entities := s.allEntities()
	triples := s.allTriples()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntities, bucketTriples} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		eb := tx.Bucket(bucketEntities)
		for _, e := range entities {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eb.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		tb := tx.Bucket(bucketTriples)
		for _, t := range triples {
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := tb.Put([]byte(t.Key()), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.BackendUnavailable("persist graph database", err)
	}
	s.logger.Debug("persisted graph", "store", "bolt",
		"entities", len(entities), "triples", len(triples))
	return nil
}

func (s *BoltStore) Load() error {
	var entities []Entity
	var triples []Triple

	err := s.db.View(func(tx *bolt.Tx) error {
		if eb := tx.Bucket(bucketEntities); eb != nil {
			if err := eb.ForEach(func(_, v []byte) error {
				var e Entity
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				entities = append(entities, e)
				return nil
			}); err != nil {
				return err
			}
		}
		if tb := tx.Bucket(bucketTriples); tb != nil {
			return tb.ForEach(func(_, v []byte) error {
				var t Triple
				if err := json.Unmarshal(v, &t); err != nil {
					return err
				}
				triples = append(triples, t)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return errors.BackendUnavailable("load graph database", err)
	}
	s.replace(entities, triples)
	return nil
}

func (s *BoltStore) Stats() Stats {
	entities, triples := s.counts()
	return Stats{Entities: entities, Triples: triples, StoreType: "bolt"}
}

func (s *BoltStore) Close() error { return s.db.Close() }

var _ Store = (*BoltStore)(nil)
