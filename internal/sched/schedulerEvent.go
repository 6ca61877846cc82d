// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusRegister
	StatusReschedule
	StatusFire
	StatusCancel
	StatusPanic
)

// StatusEvent is emitted on every dispatch and on key actions
type StatusEvent struct {
	Time     time.Time
	Kind     StatusKind
	TaskID   TaskID
	Deadline time.Time
	Runs     int64
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusRegister:
		return "Register"
	case StatusReschedule:
		return "Reschedule"
	case StatusFire:
		return "Fire"
	case StatusCancel:
		return "Cancel"
	case StatusPanic:
		return "Panic"
	default:
		return "Unknown"
	}
}
