package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/amp-controller/internal/logic"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, limit int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub", "history.db")
	s, err := Open(path, limit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func event(i int, et logic.EventType) logic.Event {
	return logic.Event{
		Timestamp:   t0.Add(time.Duration(i) * time.Second),
		Type:        et,
		State:       logic.StateNormal,
		Power:       logic.PowerOn,
		Temperature: 40 + float64(i),
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s, _ := openStore(t, 0)

	require.NoError(t, s.Append(event(0, logic.EventPowerOn)))
	require.NoError(t, s.Append(event(1, logic.EventOverheatPending)))
	require.NoError(t, s.Append(event(2, logic.EventThermalShutdown)))

	records, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, uint64(3), records[0].Seq)
	assert.Equal(t, "THERMAL_SHUTDOWN", records[0].Event)
	assert.Equal(t, "OVERHEAT_PENDING", records[1].Event)
	assert.True(t, t0.Add(2*time.Second).Equal(records[0].Timestamp))
	assert.Equal(t, float64(42), records[0].TemperatureC)
	assert.Equal(t, "NORMAL", records[0].State)
	assert.Equal(t, "ON", records[0].Power)
}

func TestRecentEmpty(t *testing.T) {
	s, _ := openStore(t, 0)

	records, err := s.Recent(10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestCounts(t *testing.T) {
	s, _ := openStore(t, 0)

	for i, et := range []logic.EventType{
		logic.EventPowerOn,
		logic.EventThermalShutdown,
		logic.EventPowerOff,
		logic.EventRestartEligible,
		logic.EventCommandDenied,
		logic.EventCommandDenied,
		logic.EventSensorFault,
	} {
		require.NoError(t, s.Append(event(i, et)))
	}

	counts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, logic.EventCounts{Trips: 1, Restarts: 1, Faults: 1, PowerOns: 1, PowerOffs: 1, Denied: 2}, counts)
}

func TestLimitPrunesOldest(t *testing.T) {
	s, _ := openStore(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(event(i, logic.EventPowerOn)))
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(5), records[0].Seq)
	assert.Equal(t, uint64(3), records[2].Seq)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Append(event(0, logic.EventThermalShutdown)))
	require.NoError(t, s.Close())

	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(event(1, logic.EventCooldown)))

	records, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].Seq)
	assert.Equal(t, "THERMAL_SHUTDOWN", records[1].Event)
}
