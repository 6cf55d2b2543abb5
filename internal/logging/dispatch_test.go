package logging

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchHookEmpty(t *testing.T) {
	h := NewDispatchHook()

	assert.Empty(t, h.Hooks())
	assert.Equal(t, logrus.AllLevels, h.Levels())
	assert.NoError(t, h.Fire(&logrus.Entry{Level: logrus.InfoLevel, Message: "nobody listens"}))
}

func TestDispatchHookFiltersPerHook(t *testing.T) {
	verbose := &memoryOutput{}
	quiet := &memoryOutput{}

	h := NewDispatchHook()
	h.UpdateSnapshot([]*JSONLogHook{
		NewJSONLogHook("Verbose", verbose, WithLevel(logrus.DebugLevel)),
		NewJSONLogHook("Quiet", quiet, WithLevel(logrus.ErrorLevel)),
	})

	require.NoError(t, h.Fire(&logrus.Entry{Time: time.Now(), Level: logrus.DebugLevel, Message: "d"}))
	require.NoError(t, h.Fire(&logrus.Entry{Time: time.Now(), Level: logrus.ErrorLevel, Message: "e"}))

	assert.Len(t, verbose.written(), 2)
	require.Len(t, quiet.written(), 1)
	assert.Equal(t, "e", quiet.written()[0].Message)
	assert.Equal(t, "Quiet", quiet.written()[0].Category)
}

func TestDispatchHookJoinsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	ok := &memoryOutput{}

	h := NewDispatchHook()
	h.UpdateSnapshot([]*JSONLogHook{
		NewJSONLogHook("A", &memoryOutput{err: first}),
		NewJSONLogHook("B", ok),
		NewJSONLogHook("C", &memoryOutput{err: second}),
	})

	err := h.Fire(&logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "x"})
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Len(t, ok.written(), 1)
}

func TestDispatchHookSeesLevelChanges(t *testing.T) {
	output := &memoryOutput{}
	hook := NewJSONLogHook("Test", output, WithLevel(logrus.ErrorLevel))

	h := NewDispatchHook()
	h.UpdateSnapshot([]*JSONLogHook{hook})

	logger := logrus.New()
	logger.SetLevel(logrus.TraceLevel)
	logger.AddHook(h)
	logger.SetOutput(io.Discard)

	logger.Info("dropped")
	hook.SetLevel(logrus.InfoLevel)
	logger.Info("kept")

	entries := output.written()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}
