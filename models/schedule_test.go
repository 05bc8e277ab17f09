package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScheduleStatusTerminal(t *testing.T) {
	require.False(t, ScheduleScheduled.Terminal())
	for _, s := range []ScheduleStatus{ScheduleExecuted, ScheduleFailed, ScheduleCanceled, ScheduleSkipped} {
		require.True(t, s.Terminal(), string(s))
	}
}
