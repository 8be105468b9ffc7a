package jobs

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
)

const (
	// retentionAge drops terminal jobs from the log at compaction.
	retentionAge = 7 * 24 * time.Hour

	// compactThreshold triggers a log rewrite on open.
	compactThreshold = 4 << 20
)

// record is one JSONL line: a full job snapshot at a transition, so
// replay needs only the last record per id.
type record struct {
	Job
	LoggedAt time.Time `json:"logged_at"`
}

// jobLog appends job transitions to a JSONL file and replays them.
type jobLog struct {
	path string
	file *os.File
}

func openLog(path string) (*jobLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.BackendUnavailable("create jobs directory", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.BackendUnavailable("open job log", err)
	}
	return &jobLog{path: path, file: file}, nil
}

// append writes one transition record and syncs it to disk.
func (l *jobLog) append(job Job) error {
	data, err := json.Marshal(record{Job: job, LoggedAt: time.Now().UTC()})
	if err != nil {
		return errors.Internal("marshal job record", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return errors.BackendUnavailable("append job record", err)
	}
	return l.file.Sync()
}

func (l *jobLog) close() error {
	return l.file.Close()
}

// replay reads the whole log and returns the surviving jobs, last
// record per id winning. Jobs logged as running belong to a process
// that died; they come back failed. Terminal jobs past retention are
// dropped. Corrupt lines are skipped.
func replay(path string) ([]Job, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendUnavailable("open job log", err)
	}
	defer func() { _ = file.Close() }()

	latest := map[string]Job{}
	order := map[string]int{}
	seq := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			continue
		}
		if _, seen := order[rec.ID]; !seen {
			order[rec.ID] = seq
			seq++
		}
		latest[rec.ID] = rec.Job
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.BackendUnavailable("read job log", err)
	}

	cutoff := time.Now().Add(-retentionAge)
	jobs := make([]Job, 0, len(latest))
	for _, job := range latest {
		if job.Status == StatusRunning {
			job.Status = StatusFailed
			job.Error = "process terminated"
			job.FinishedAt = time.Now().UTC()
		}
		if job.Status.Terminal() && !job.FinishedAt.IsZero() && job.FinishedAt.Before(cutoff) {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return order[jobs[i].ID] < order[jobs[j].ID] })
	return jobs, nil
}

// compact rewrites the log to one record per job via temp+rename.
func compact(path string, jobs []Job) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.BackendUnavailable("create compacted job log", err)
	}
	writer := bufio.NewWriter(file)
	for _, job := range jobs {
		data, err := json.Marshal(record{Job: job, LoggedAt: time.Now().UTC()})
		if err != nil {
			_ = file.Close()
			return errors.Internal("marshal job record", err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			_ = file.Close()
			return errors.BackendUnavailable("write compacted job log", err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = file.Close()
		return errors.BackendUnavailable("flush compacted job log", err)
	}
	if err := file.Close(); err != nil {
		return errors.BackendUnavailable("close compacted job log", err)
	}
	return os.Rename(tmp, path)
}

// needsCompaction reports whether the log has grown past the rewrite
// threshold.
func needsCompaction(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > compactThreshold
}
