package capacity

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultReserveMB is held back from the reported free memory so the GPU
// keeps headroom for display and driver allocations.
const DefaultReserveMB = 1024

// SMIProbe reads free GPU memory from nvidia-smi. It queries the first
// device; multi-GPU placement is out of scope.
type SMIProbe struct {
	// ReserveMB is subtracted from the reported free memory.
	ReserveMB int
	// run is swappable for tests.
	run func(ctx context.Context) ([]byte, error)
}

// NewSMIProbe builds a probe with the given holdback. A non-positive
// reserve uses DefaultReserveMB.
func NewSMIProbe(reserveMB int) *SMIProbe {
	if reserveMB <= 0 {
		reserveMB = DefaultReserveMB
	}
	return &SMIProbe{
		ReserveMB: reserveMB,
		run: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx,
				"nvidia-smi",
				"--query-gpu=memory.free",
				"--format=csv,noheader,nounits",
			).Output()
		},
	}
}

func (p *SMIProbe) FreeMB(ctx context.Context) (int, error) {
	out, err := p.run(ctx)
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi: %w", err)
	}
	free, err := parseSMIMemory(out)
	if err != nil {
		return 0, err
	}
	free -= p.ReserveMB
	if free < 0 {
		free = 0
	}
	return free, nil
}

// parseSMIMemory extracts the first device's value from nounits csv output.
func parseSMIMemory(out []byte) (int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("nvidia-smi: empty output")
	}
	mb, err := strconv.Atoi(strings.TrimSpace(strings.Split(line, ",")[0]))
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	return mb, nil
}
