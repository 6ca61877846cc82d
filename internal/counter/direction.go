package counter

import (
	"fmt"
	"strings"
)

// Direction is the way a step moves the counter.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "forward" or "backward", in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return Forward, nil
	case "backward":
		return Backward, nil
	}
	return Forward, fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, s)
}
