package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrSourceDirRequired is returned when the configuration names no
	// input directory.
	ErrSourceDirRequired = errors.New("source directory required")
)
