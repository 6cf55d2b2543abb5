package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// The process-wide manager is installed explicitly by Bootstrap and removed
// by Shutdown. Nothing creates it implicitly.
var (
	globalMu      sync.Mutex
	globalManager *Manager
)

// Bootstrap installs m as the process-wide logging manager. It fails with
// ErrAlreadyBootstrapped until Shutdown is called.
func Bootstrap(m *Manager) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		return ErrAlreadyBootstrapped
	}
	globalManager = m
	return nil
}

// BootstrapStandard creates a manager on logrus' standard logger and installs it
func BootstrapStandard() (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		return nil, ErrAlreadyBootstrapped
	}
	globalManager = NewManager(logrus.StandardLogger())
	return globalManager, nil
}

// Default returns the process-wide manager, or nil before Bootstrap
func Default() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager
}

// Shutdown closes the process-wide manager and allows a new Bootstrap
func Shutdown() {
	globalMu.Lock()
	m := globalManager
	globalManager = nil
	globalMu.Unlock()

	if m != nil {
		m.Close()
	}
}
