package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recordingComponent(name string, log *[]string) *FuncComponent {
	return &FuncComponent{
		NameStr: name,
		ConfigureFn: func(ctx context.Context) error {
			*log = append(*log, name+":configure")
			return nil
		},
		StartFn: func(ctx context.Context) error {
			*log = append(*log, name+":start")
			return nil
		},
		StopFn: func(ctx context.Context) error {
			*log = append(*log, name+":stop")
			return nil
		},
	}
}

func TestSupervisorStartsInOrderAndStopsInReverse(t *testing.T) {
	var log []string
	s := New(zap.NewNop(), recordingComponent("a", &log), recordingComponent("b", &log), recordingComponent("c", &log))

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, []string{"a:configure", "a:start", "b:configure", "b:start", "c:configure", "c:start"}, log)

	log = nil
	s.Stop(context.Background())
	require.Equal(t, []string{"c:stop", "b:stop", "a:stop"}, log)
}

func TestSupervisorStopsAlreadyStartedComponentsOnStartFailure(t *testing.T) {
	var log []string
	failing := &FuncComponent{
		NameStr: "failing",
		StartFn: func(ctx context.Context) error { return errors.New("boom") },
	}
	s := New(zap.NewNop(), recordingComponent("a", &log), failing, recordingComponent("c", &log))

	err := s.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"a:configure", "a:start", "a:stop"}, log)
}

func TestSupervisorStopIsBestEffort(t *testing.T) {
	var log []string
	broken := &FuncComponent{
		NameStr: "broken",
		StopFn:  func(ctx context.Context) error { return errors.New("stop failed") },
	}
	s := New(zap.NewNop(), recordingComponent("a", &log), broken, recordingComponent("c", &log))

	require.NoError(t, s.Start(context.Background()))
	log = nil
	s.Stop(context.Background())
	require.Equal(t, []string{"c:stop", "a:stop"}, log) // broken's Stop error is logged, not fatal
}
