package errorledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleRecordsHistoryAndCounts(t *testing.T) {
	l := New(10)
	l.Handle("dispatch.send_message", SeverityMedium, "boom")
	l.Handle("dispatch.send_message", SeverityMedium, "boom again")

	hist := l.History()
	require.Len(t, hist, 2)
	require.Equal(t, 2, l.Counts()[SeverityMedium])
}

func TestHistoryRingBufferBounded(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Handle("src", SeverityLow, "e")
	}
	require.Len(t, l.History(), 3)
}

func TestThresholdTriggersHookAndResetsCounter(t *testing.T) {
	l := New(10)
	l.SetThreshold(SeverityHigh, 2)
	var fired int
	l.RegisterHook(func(r Record) { fired++ })

	l.Handle("src", SeverityHigh, "one")
	require.Equal(t, 0, fired)
	l.Handle("src", SeverityHigh, "two")
	require.Equal(t, 1, fired)
	require.Equal(t, 0, l.Counts()[SeverityHigh])
}

func TestSourceScopedHookOnlyFiresForItsSource(t *testing.T) {
	l := New(10)
	l.SetThreshold(SeverityCritical, 1)
	var generic, scoped int
	l.RegisterHook(func(r Record) { generic++ })
	l.RegisterSourceHook("dispatch.ai_process", func(r Record) { scoped++ })

	l.Handle("dispatch.send_message", SeverityCritical, "boom")
	require.Equal(t, 1, generic)
	require.Equal(t, 0, scoped)

	l.Handle("dispatch.ai_process", SeverityCritical, "boom2")
	require.Equal(t, 2, generic)
	require.Equal(t, 1, scoped)
}
