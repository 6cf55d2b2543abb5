package logging

import "errors"

var (
	// ErrCouldNotCreateFile is returned when the backing JSON log file cannot be created
	ErrCouldNotCreateFile = errors.New("could not create log file")

	// ErrOutputExists is returned when an output name is already registered with the manager
	ErrOutputExists = errors.New("output already exists")

	// ErrOutputNotFound is returned when no output is registered under a name
	ErrOutputNotFound = errors.New("output not found")

	// ErrTargetStoreNotSet is returned when target operations run without a target store
	ErrTargetStoreNotSet = errors.New("target store not set")

	// ErrTargetNotFound is returned when a logging target does not exist
	ErrTargetNotFound = errors.New("logging target not found")

	// ErrTargetExists is returned when a logging target name is already taken
	ErrTargetExists = errors.New("logging target already exists")

	// ErrInvalidTarget is returned when a logging target fails validation
	ErrInvalidTarget = errors.New("invalid logging target")

	// ErrAlreadyBootstrapped is returned when the process-wide manager is installed twice
	ErrAlreadyBootstrapped = errors.New("logging already bootstrapped")
)
