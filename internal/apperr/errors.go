package apperr

import "errors"

// ErrInvalidInput is returned when a user-supplied domain or pagination
// parameter fails validation. Use errors.Is(err, apperr.ErrInvalidInput) to
// detect validation failures uniformly across all packages.
var ErrInvalidInput = errors.New("invalid input")

// ErrScanInProgress is returned when a scan is requested for an apex that
// already holds a live reservation. The HTTP boundary maps it to 429.
var ErrScanInProgress = errors.New("scan already in progress")
