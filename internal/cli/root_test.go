package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/monorkin/device-fleet-manager/internal/fault"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"validation", fault.Validationf("bad"), 2},
		{"not found", fault.NotFoundf("missing"), 3},
		{"conflict", fmt.Errorf("result: %w", fault.Conflictf("already reported")), 4},
		{"unauthorized", fault.Unauthorizedf("expired"), 5},
		{"other", errors.New("disk full"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestOrDash(t *testing.T) {
	if orDash("") != "-" || orDash("x") != "x" {
		t.Error("orDash did not substitute empty values")
	}
}
