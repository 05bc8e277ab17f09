package services

import "time"

// Clock is the source of "now". Implementations return UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// FixedClock always returns the same instant; handy for previews and tests.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c).UTC() }
