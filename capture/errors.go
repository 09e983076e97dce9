package capture

import "errors"

// Error classes. Concrete errors wrap one of these so callers can branch with errors.Is.
var (
	ErrConfig = errors.New("configuration error")
	ErrDevice = errors.New("device error")
	ErrIO     = errors.New("i/o error")
)

var (
	ErrZeroBlock         = errors.New("block size must be non-zero")
	ErrBlockAlignment    = errors.New("block size is not a multiple of the transfer unit")
	ErrSampleAlignment   = errors.New("block size is not a whole number of samples")
	ErrTooManyChannels   = errors.New("at most two channels are supported")
	ErrTransferTooSmall  = errors.New("transfer unit below device minimum")
	ErrTransferUnaligned = errors.New("transfer unit must be a multiple of 512 bytes")

	ErrShortWrite  = errors.New("short write, samples lost")
	ErrShortRead   = errors.New("short read, samples lost")
	ErrStreamEnded = errors.New("device stopped delivering samples")
	ErrSessionUsed = errors.New("session already ran")
)
