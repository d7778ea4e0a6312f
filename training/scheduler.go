package training

import "fmt"

// ReduceLROnPlateau lowers the learning rate when a monitored metric stops
// improving. The pretrain controller feeds it the validation epoch loss.
type ReduceLROnPlateau struct {
	Factor    float64 // multiplier applied when the plateau is hit
	Patience  int     // non-improving epochs tolerated before reducing
	Threshold float64 // minimum change that counts as an improvement
	Mode      string  // "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateau creates a plateau scheduler. Out-of-range arguments
// are construction errors.
func NewReduceLROnPlateau(factor float64, patience int, threshold float64, mode string) (*ReduceLROnPlateau, error) {
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("scheduler factor must be in (0, 1), got %g", factor)
	}
	if patience <= 0 {
		return nil, fmt.Errorf("scheduler patience must be positive, got %d", patience)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("scheduler threshold must be non-negative, got %g", threshold)
	}
	if mode != "min" && mode != "max" {
		return nil, fmt.Errorf("scheduler mode must be min or max, got %q", mode)
	}

	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}, nil
}

// Step records one epoch's metric and returns the learning rate to use next.
// Called once per epoch with the monitored validation metric.
func (s *ReduceLROnPlateau) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}
