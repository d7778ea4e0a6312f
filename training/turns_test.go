package training

import "testing"

func TestTurnString(t *testing.T) {
	if GeneratorTurn.String() != "generator" {
		t.Errorf("GeneratorTurn.String() = %q", GeneratorTurn.String())
	}
	if DiscriminatorTurn.String() != "discriminator" {
		t.Errorf("DiscriminatorTurn.String() = %q", DiscriminatorTurn.String())
	}
}

func TestTurnValid(t *testing.T) {
	if !GeneratorTurn.Valid() || !DiscriminatorTurn.Valid() {
		t.Error("defined turns must be valid")
	}
	if Turn(7).Valid() {
		t.Error("undefined turn must be invalid")
	}
}

func TestNewUpdateScheduleRejectsBadCadence(t *testing.T) {
	for _, k := range []int{0, -3} {
		if _, err := NewUpdateSchedule(k); err == nil {
			t.Errorf("expected error for cadence %d", k)
		}
	}
}

func TestUpdateScheduleCadence(t *testing.T) {
	schedule, err := NewUpdateSchedule(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Over 8 steps with k=4 the discriminator updates exactly twice.
	updates := 0
	var steps []int64
	for step := int64(0); step < 8; step++ {
		if schedule.ShouldStepDiscriminator(step) {
			updates++
			steps = append(steps, step)
		}
	}

	if updates != 2 {
		t.Fatalf("discriminator updated %d times over 8 steps, want 2", updates)
	}
	if steps[0] != 0 || steps[1] != 4 {
		t.Errorf("updates at steps %v, want [0 4]", steps)
	}
}

func TestUpdateScheduleEveryStep(t *testing.T) {
	schedule, _ := NewUpdateSchedule(1)
	for step := int64(0); step < 5; step++ {
		if !schedule.ShouldStepDiscriminator(step) {
			t.Errorf("k=1 must update at every step, missed %d", step)
		}
	}
}
