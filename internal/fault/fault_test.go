package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validationf("bad %s", "input"), Validation},
		{"not found", NotFoundf("device %q", "SN1"), NotFound},
		{"conflict", Conflictf("duplicate"), Conflict},
		{"unauthorized", Unauthorizedf("expired"), Unauthorized},
		{"wrapped", fmt.Errorf("registry: %w", NotFoundf("device")), NotFound},
		{"plain error", errors.New("disk on fire"), Internal},
		{"nil", nil, Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsMatchesSentinelOfSameKind(t *testing.T) {
	err := fmt.Errorf("poll: %w", NotFoundf("device %q not found", "SN1"))

	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false, want true")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("errors.Is(err, ErrConflict) = true, want false")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Wrap(Internal, cause, "failed to save device")

	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if err.Error() != "failed to save device: database is locked" {
		t.Errorf("Error() = %q", err.Error())
	}
	if Wrap(Conflict, nil, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
