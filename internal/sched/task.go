package sched

import "time"

// TaskID uniquely identifies a task registered with the scheduler.
type TaskID uint64

// Task represents one periodic unit of work.
type Task struct {
	ID       TaskID
	Period   time.Duration // fixed rate between two consecutive runs
	Deadline time.Time     // next run; advanced by Period on every dispatch, never by "now"
	Runs     int64         // number of completed dispatches
	Run      func(deadline time.Time) // work function, invoked on the dispatch goroutine with the deadline being served
}

// NewTask creates a task whose first run is due at first.
// NOTE: ID is zero in here. It is set when the task is registered.
func NewTask(period time.Duration, first time.Time, work func(time.Time)) *Task {
	return &Task{
		Period:   period,
		Deadline: first,
		Run:      work,
	}
}

// advance moves the deadline to the next period boundary.
func (t *Task) advance() {
	t.Deadline = t.Deadline.Add(t.Period)
}
