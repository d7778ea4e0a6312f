package training

import "fmt"

// Turn identifies which network a training step updates. Using a tagged type
// instead of a bare optimizer index makes an out-of-range turn impossible to
// construct silently.
type Turn int

const (
	// GeneratorTurn updates the generator against the frozen discriminator.
	GeneratorTurn Turn = iota

	// DiscriminatorTurn scores the four probes and, when the cadence allows,
	// updates the discriminator.
	DiscriminatorTurn
)

// String implements fmt.Stringer.
func (t Turn) String() string {
	switch t {
	case GeneratorTurn:
		return "generator"
	case DiscriminatorTurn:
		return "discriminator"
	default:
		return fmt.Sprintf("Turn(%d)", int(t))
	}
}

// Valid reports whether the turn is one of the two defined variants.
func (t Turn) Valid() bool {
	return t == GeneratorTurn || t == DiscriminatorTurn
}

// UpdateSchedule decides when the discriminator applies its gradient. The
// generator steps every batch; the discriminator steps every K batches, while
// its loss is still computed and reported on every batch.
type UpdateSchedule struct {
	K int
}

// NewUpdateSchedule validates the cadence.
func NewUpdateSchedule(k int) (UpdateSchedule, error) {
	if k <= 0 {
		return UpdateSchedule{}, fmt.Errorf("update cadence must be positive, got %d", k)
	}
	return UpdateSchedule{K: k}, nil
}

// ShouldStepDiscriminator reports whether the discriminator applies its
// update at the given global step.
func (s UpdateSchedule) ShouldStepDiscriminator(step int64) bool {
	return step%int64(s.K) == 0
}
