package consts

import "github.com/pkg/errors"

var (
	Version   = "v0.1.0"
	BuildTime = "unknown"
	GitTag    = "unknown"
)

var (
	// ErrSinkFailure marks output errors that stop the process.
	ErrSinkFailure     = errors.New("output sink failure")
	ErrUnknownEncoding = errors.New("unknown content encoding")
	ErrInvalidAddress  = errors.New("invalid address")
)
