package training

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Phase tags metric names so dashboards can separate the training, validation
// and test curves.
type Phase string

const (
	PhaseTrain Phase = "Train"
	PhaseVal   Phase = "Val"
	PhaseTest  Phase = "Test"
)

// Metric builds the canonical "{Phase}/{name}" metric key.
func (p Phase) Metric(name string) string {
	return fmt.Sprintf("%s/%s", p, name)
}

// MetricSink receives scalar metrics and the end-of-run hyperparameter
// record. Implementations must be safe for concurrent use.
type MetricSink interface {
	// LogScalar records one named value at a global step.
	LogScalar(name string, value float64, step int64)

	// LogHyperParams records the run's hyperparameters together with the
	// final metrics they produced.
	LogHyperParams(params interface{}, metrics map[string]float64)
}

// ScalarPoint is one recorded metric observation.
type ScalarPoint struct {
	Step  int64
	Value float64
}

// HyperParamRecord couples a hyperparameter set with its final metrics.
type HyperParamRecord struct {
	Params  interface{}
	Metrics map[string]float64
}

// MemorySink retains everything it is given. Used by tests and by drivers
// that inspect the run after the fact.
type MemorySink struct {
	mu      sync.Mutex
	scalars map[string][]ScalarPoint
	hparams []HyperParamRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{scalars: make(map[string][]ScalarPoint)}
}

// LogScalar implements MetricSink.
func (s *MemorySink) LogScalar(name string, value float64, step int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[name] = append(s.scalars[name], ScalarPoint{Step: step, Value: value})
}

// LogHyperParams implements MetricSink.
func (s *MemorySink) LogHyperParams(params interface{}, metrics map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hparams = append(s.hparams, HyperParamRecord{Params: params, Metrics: metrics})
}

// Scalars returns the recorded points for one metric name.
func (s *MemorySink) Scalars(name string) []ScalarPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := make([]ScalarPoint, len(s.scalars[name]))
	copy(points, s.scalars[name])
	return points
}

// HyperParams returns every recorded hyperparameter record.
func (s *MemorySink) HyperParams() []HyperParamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]HyperParamRecord, len(s.hparams))
	copy(records, s.hparams)
	return records
}

// LogrusSink forwards metrics to a logrus logger as structured fields.
type LogrusSink struct {
	log *logrus.Logger
}

// NewLogrusSink wraps the given logger; a nil logger uses the standard one.
func NewLogrusSink(log *logrus.Logger) *LogrusSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusSink{log: log}
}

// LogScalar implements MetricSink.
func (s *LogrusSink) LogScalar(name string, value float64, step int64) {
	s.log.WithFields(logrus.Fields{
		"metric": name,
		"value":  value,
		"step":   step,
	}).Info("metric")
}

// LogHyperParams implements MetricSink.
func (s *LogrusSink) LogHyperParams(params interface{}, metrics map[string]float64) {
	s.log.WithFields(logrus.Fields{
		"hyperparams": params,
		"metrics":     metrics,
	}).Info("hyperparameters")
}

// TeeSink fans metrics out to several sinks.
type TeeSink []MetricSink

// LogScalar implements MetricSink.
func (t TeeSink) LogScalar(name string, value float64, step int64) {
	for _, sink := range t {
		sink.LogScalar(name, value, step)
	}
}

// LogHyperParams implements MetricSink.
func (t TeeSink) LogHyperParams(params interface{}, metrics map[string]float64) {
	for _, sink := range t {
		sink.LogHyperParams(params, metrics)
	}
}

// EpochAggregator accumulates per-step values and reduces them to an epoch
// mean at epoch end.
type EpochAggregator struct {
	values map[string][]float64
}

// NewEpochAggregator creates an empty aggregator.
func NewEpochAggregator() *EpochAggregator {
	return &EpochAggregator{values: make(map[string][]float64)}
}

// Add records one observation under name.
func (a *EpochAggregator) Add(name string, value float64) {
	a.values[name] = append(a.values[name], value)
}

// Mean returns the mean of the observations under name. The second return is
// false when nothing was recorded.
func (a *EpochAggregator) Mean(name string) (float64, bool) {
	vals := a.values[name]
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

// Count returns how many observations were recorded under name.
func (a *EpochAggregator) Count(name string) int {
	return len(a.values[name])
}

// Reset clears all recorded observations.
func (a *EpochAggregator) Reset() {
	a.values = make(map[string][]float64)
}
