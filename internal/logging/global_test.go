package logging

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapOnce(t *testing.T) {
	t.Cleanup(Shutdown)
	assert.Nil(t, Default())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(logger)

	require.NoError(t, Bootstrap(m))
	assert.Same(t, m, Default())

	assert.ErrorIs(t, Bootstrap(NewManager(logger)), ErrAlreadyBootstrapped)
	_, err := BootstrapStandard()
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
	assert.Same(t, m, Default())
}

func TestShutdownClosesAndAllowsBootstrap(t *testing.T) {
	t.Cleanup(Shutdown)
	dir := t.TempDir()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(logger)
	require.NoError(t, Bootstrap(m))

	_, err := m.AddOutput("app", "App", filepath.Join(dir, "app.json"), logrus.InfoLevel)
	require.NoError(t, err)

	Shutdown()
	assert.Nil(t, Default())
	assert.Equal(t, 0, m.GetActiveOutputs())

	// Shutdown without a manager is a no-op
	assert.NotPanics(t, Shutdown)

	standard, err := BootstrapStandard()
	require.NoError(t, err)
	assert.Same(t, logrus.StandardLogger(), standard.Logger())
	assert.Same(t, standard, Default())
}
