package graph

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentbrain/agentbrain/internal/errors"
)

const simpleFileName = "graph.json"

// SimpleStore keeps the whole graph in memory and persists it as one
// JSON document. Persist writes to a temp file and renames, so readers
// of the previous file never see a partial graph.
type SimpleStore struct {
	*memoryGraph
	path   string
	logger *slog.Logger
}

type simpleFile struct {
	Entities []Entity `json:"entities"`
	Triples  []Triple `json:"triples"`
}

// NewSimpleStore creates a JSON-backed store rooted at dir. Nothing is
// read until Load.
func NewSimpleStore(dir string, logger *slog.Logger) *SimpleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleStore{
		memoryGraph: newMemoryGraph(),
		path:        filepath.Join(dir, simpleFileName),
		logger:      logger,
	}
}

func (s *SimpleStore) AddTriple(subject Entity, predicate string, object Entity, sourceChunkID string) error {
	if !Predicates[predicate] {
		return errors.New(errors.KindInvalidArgument, "unknown predicate: "+predicate)
	}
	if !EntityTypes[subject.Type] || !EntityTypes[object.Type] {
		return errors.New(errors.KindInvalidArgument, "unknown entity type: "+subject.Type+"/"+object.Type)
	}
	s.addTriple(subject, predicate, object, sourceChunkID)
	return nil
}

func (s *SimpleStore) Entities() []Entity { return s.allEntities() }

func (s *SimpleStore) Neighbors(entityID string, depth int) []Entity {
	return s.neighbors(entityID, depth)
}

func (s *SimpleStore) Subgraph(seedIDs []string, depth int) []TraversalTriple {
	return s.subgraph(seedIDs, depth)
}

func (s *SimpleStore) Clear() error {
	s.clear()
	return nil
}

// Persist writes the snapshot atomically. Entity and triple order is
// canonical, so identical graphs produce identical bytes.
func (s *SimpleStore) Persist() error {
	snapshot := simpleFile{Entities: s.allEntities(), Triples: s.allTriples()}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Internal("marshal graph", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.BackendUnavailable("create graph directory", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.BackendUnavailable("write graph file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.BackendUnavailable("replace graph file", err)
	}
	s.logger.Debug("persisted graph", "path", s.path,
		"entities", len(snapshot.Entities), "triples", len(snapshot.Triples))
	return nil
}

func (s *SimpleStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.clear()
		return nil
	}
	if err != nil {
		return errors.BackendUnavailable("read graph file", err)
	}

	var snapshot simpleFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return errors.BackendUnavailable("parse graph file", err)
	}
	s.replace(snapshot.Entities, snapshot.Triples)
	return nil
}

func (s *SimpleStore) Stats() Stats {
	entities, triples := s.counts()
	return Stats{Entities: entities, Triples: triples, StoreType: "simple"}
}

func (s *SimpleStore) Close() error { return nil }

var _ Store = (*SimpleStore)(nil)
