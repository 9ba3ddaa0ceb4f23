package mrf

import (
	"fmt"
	"strings"
)

// Policy decides which neighbouring label pairs are penalised by the
// pairwise and directional terms.
type Policy int

const (
	// PottsBackgroundContrast penalises only background/foreground
	// disagreement; two distinct foreground labels are compatible.
	PottsBackgroundContrast Policy = iota
	// PottsHard penalises every label disagreement.
	PottsHard
)

// Mismatch reports whether labels a and b are penalised under p.
func (p Policy) Mismatch(a, b uint8) bool {
	if p == PottsHard {
		return a != b
	}
	return (a == 0) != (b == 0)
}

func (p Policy) String() string {
	switch p {
	case PottsHard:
		return "hard"
	case PottsBackgroundContrast:
		return "background-contrast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy resolves a policy name used in configuration files.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hard", "potts":
		return PottsHard, nil
	case "background-contrast", "contrast", "":
		return PottsBackgroundContrast, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
