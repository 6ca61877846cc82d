package clock

import "time"

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFuncAt(deadline time.Time, f func()) *Timer {
	t := time.AfterFunc(time.Until(deadline), f)
	return &Timer{stopFunc: t.Stop}
}
