package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ResolveLocation maps a checkpoint location to a local directory. URL-style
// locations keep their host and path as directory components under dir
// separators, so "s3://bucket/runs" and "file:///runs" both land on local
// paths; remote backends are out of scope and every location is a local one.
func ResolveLocation(location string) string {
	if trimmed := strings.TrimPrefix(location, "file://"); trimmed != location {
		return filepath.FromSlash(trimmed)
	}
	for _, scheme := range []string{"s3://", "gs://"} {
		if trimmed := strings.TrimPrefix(location, scheme); trimmed != location {
			return filepath.Join(strings.Split(trimmed, "/")...)
		}
	}
	return location
}

// RetentionPolicy decides which checkpoints survive on disk.
type RetentionPolicy int

const (
	// KeepBest retains only the checkpoint with the best monitored value.
	// Used by pretraining, where only the strongest generator matters.
	KeepBest RetentionPolicy = iota

	// KeepAll retains every checkpoint. Used by the adversarial phase, where
	// adversarial loss is a poor model-selection signal and later inspection
	// across epochs is wanted.
	KeepAll
)

// Gate writes checkpoints keyed by a monitored metric and enforces the
// retention policy. Lower metric values are treated as better.
type Gate struct {
	dir    string
	metric string
	policy RetentionPolicy

	best    float64
	hasBest bool
	kept    []string
}

// NewGate creates the checkpoint directory and a gate monitoring the given
// metric name.
func NewGate(dir, metric string, policy RetentionPolicy) (*Gate, error) {
	if metric == "" {
		return nil, errors.New("gate requires a monitored metric name")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}

	return &Gate{dir: dir, metric: metric, policy: policy}, nil
}

// Consider offers a checkpoint with its monitored value. Under KeepAll it is
// always written; under KeepBest it is written only on improvement and the
// previous best file is removed. Returns whether the checkpoint was written
// and, if so, where.
func (g *Gate) Consider(ckpt *Checkpoint, value float64, epoch int) (bool, string, error) {
	if ckpt == nil {
		return false, "", errors.New("cannot consider a nil checkpoint")
	}

	if g.policy == KeepBest && g.hasBest && value >= g.best {
		return false, "", nil
	}

	ckpt.TrainingState.MonitoredName = g.metric
	ckpt.TrainingState.MonitoredValue = value
	ckpt.TrainingState.Epoch = epoch

	path := filepath.Join(g.dir, g.filename(value, epoch))
	if err := Save(ckpt, path); err != nil {
		return false, "", err
	}

	if g.policy == KeepBest {
		for _, old := range g.kept {
			if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
				return false, "", errors.Wrapf(err, "failed to remove superseded checkpoint %s", old)
			}
		}
		g.kept = g.kept[:0]
	}

	g.kept = append(g.kept, path)
	if !g.hasBest || value < g.best {
		g.best = value
	}
	g.hasBest = true

	return true, path, nil
}

// Kept returns the paths of checkpoints currently retained by this gate.
func (g *Gate) Kept() []string {
	out := make([]string, len(g.kept))
	copy(out, g.kept)
	return out
}

// Best returns the best monitored value seen so far.
func (g *Gate) Best() (float64, bool) {
	return g.best, g.hasBest
}

// filename encodes the epoch and monitored value, with the metric's phase
// separator flattened for the filesystem.
func (g *Gate) filename(value float64, epoch int) string {
	metric := strings.ReplaceAll(g.metric, "/", "_")
	return fmt.Sprintf("epoch=%03d-%s=%.6f.json", epoch, metric, value)
}
