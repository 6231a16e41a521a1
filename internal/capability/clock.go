package capability

import "time"

// Clock supplies the current time in milliseconds since the Unix epoch. Validity windows
// are expressed in the same unit, so every clock handed to a check must share that epoch.
type Clock interface {
	NowMillis() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMillis() uint64 {
	return millis(time.Now())
}

// FixedClock always reports the same instant.
type FixedClock uint64

func (c FixedClock) NowMillis() uint64 { return uint64(c) }

// ClockFunc adapts a time source such as time.Now.
type ClockFunc func() time.Time

func (f ClockFunc) NowMillis() uint64 {
	return millis(f())
}

func millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
