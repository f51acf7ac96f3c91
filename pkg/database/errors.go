package database

import "errors"

// Sentinel errors for repository operations.
var (
	// ErrOracleNotFound is returned when no active oracle matches the
	// requested (address, chain_id) key.
	ErrOracleNotFound = errors.New("active oracle not found")

	// ErrOracleAlreadyExists names a duplicate (address, chain_id) key.
	// OracleRepository.Create does not return it: a duplicate insert is
	// a silent no-op there, so replayed acknowledgements succeed.
	ErrOracleAlreadyExists = errors.New("active oracle already exists")

	// ErrCheckpointNotFound is returned when a chain has no persisted
	// checkpoint yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
