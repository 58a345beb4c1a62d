package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks lookups of entities that were never created.
	ErrNotFound = errors.New("not found")
	// ErrUnknownAsset indicates an asset id with no stored record.
	ErrUnknownAsset = fmt.Errorf("asset %w", ErrNotFound)
	// ErrUnknownOracle indicates a reporter that is not registered.
	ErrUnknownOracle = fmt.Errorf("oracle %w", ErrNotFound)

	ErrAssetExists      = errors.New("asset already exists")
	ErrOracleExists     = errors.New("oracle already registered")
	ErrEMAExists        = errors.New("ema with this period already exists")
	ErrEMANotFound      = errors.New("ema with this period not found")
	ErrOracleRegistered = errors.New("oracle is still registered")
	ErrEmptyBatch       = errors.New("empty report batch")
	ErrInvalidAssetID   = errors.New("invalid asset id")
	ErrInvalidPeriod    = errors.New("ema period must be positive")
)
