package services

import (
	"errors"
	"testing"
	"time"

	"cadence/models"

	"github.com/stretchr/testify/require"
)

func TestCurrentDayUsesCalendarDays(t *testing.T) {
	created := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)

	require.Equal(t, 0, CurrentDay(created, created))
	require.Equal(t, 0, CurrentDay(created, created.Add(30*time.Second)))
	require.Equal(t, 1, CurrentDay(created, time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)))
	require.Equal(t, 1, CurrentDay(created, time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, 2, CurrentDay(created, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 31, CurrentDay(created, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)))
}

func TestCurrentDayNormalizesToUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 2024-01-02 08:00 JST is 2024-01-01 23:00 UTC.
	created := time.Date(2024, 1, 2, 8, 0, 0, 0, tokyo)
	now := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	require.Equal(t, 1, CurrentDay(created, now))
}

func TestCurrentDayFloorsAtZero(t *testing.T) {
	created := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 0, CurrentDay(created, created.AddDate(0, 0, -3)))
}

func TestIsDayAvailable(t *testing.T) {
	require.True(t, IsDayAvailable(0, 0))
	require.True(t, IsDayAvailable(1, 2))
	require.True(t, IsDayAvailable(2, 2))
	require.False(t, IsDayAvailable(3, 2))
}

func TestDayGateCheck(t *testing.T) {
	cadence := &models.Cadence{}
	cadence.CreatedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	step := &models.Step{DayOffset: 2}

	gate := NewDayGate(FixedClock(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, gate.CurrentDay(cadence))

	err := gate.Check(cadence, step, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDayGated))

	require.NoError(t, gate.Check(cadence, step, true), "edit mode bypasses the gate")

	gate.Clock = FixedClock(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, gate.Check(cadence, step, false))
}
