package jobs

import (
	"sync"
	"time"
)

// Stage names the phases of an ingestion job, in execution order.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageUpsert   Stage = "upsert"
	StageGraph    Stage = "graph"
	StageFinalize Stage = "finalize"
)

// stageFloor maps each stage to the fraction completed when it begins.
var stageFloor = map[Stage]float64{
	StageDiscover: 0.0,
	StageChunk:    0.1,
	StageEmbed:    0.25,
	StageUpsert:   0.65,
	StageGraph:    0.85,
	StageFinalize: 0.95,
}

// ProgressSnapshot is an immutable view of a running job's progress.
type ProgressSnapshot struct {
	Stage          string  `json:"stage"`
	Fraction       float64 `json:"fraction"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksIndexed  int     `json:"chunks_indexed"`
	Dropped        int     `json:"dropped"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
}

// Progress tracks one job across pipeline stages. Safe for concurrent
// use: the worker writes, status readers snapshot.
type Progress struct {
	mu sync.RWMutex

	stage          Stage
	fraction       float64
	filesTotal     int
	filesProcessed int
	chunksTotal    int
	chunksIndexed  int
	dropped        int
	startTime      time.Time
}

func NewProgress() *Progress {
	return &Progress{stage: StageDiscover, startTime: time.Now()}
}

// SetStage advances to a stage boundary and snaps the fraction to the
// stage floor.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	if floor, ok := stageFloor[stage]; ok && floor > p.fraction {
		p.fraction = floor
	}
}

// SetFiles records discovery totals and per-file advancement.
func (p *Progress) SetFiles(processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed = processed
	p.filesTotal = total
}

// SetChunks records how many chunks have been written of the total.
// Within the embed and upsert stages the fraction interpolates between
// the stage floors.
func (p *Progress) SetChunks(indexed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksIndexed = indexed
	p.chunksTotal = total
	if total > 0 {
		floor := stageFloor[p.stage]
		ceiling := floor + 0.2
		done := float64(indexed) / float64(total)
		if f := floor + done*(ceiling-floor); f > p.fraction {
			p.fraction = f
		}
	}
}

// AddDropped counts chunks abandoned after embedding retries.
func (p *Progress) AddDropped(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped += n
}

// Finish pins the fraction to 1.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageFinalize
	p.fraction = 1
}

// Fraction returns the current completion estimate in [0, 1].
func (p *Progress) Fraction() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fraction
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProgressSnapshot{
		Stage:          string(p.stage),
		Fraction:       p.fraction,
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		Dropped:        p.dropped,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
	}
}
