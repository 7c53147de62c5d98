package growth

import "errors"

var (
	// ErrConfiguration reports parameters that cannot drive a simulation.
	ErrConfiguration = errors.New("growth: invalid configuration")

	// ErrIndexOutOfRange reports a crown mesh that holds fewer vertices than
	// the requested leaf count.
	ErrIndexOutOfRange = errors.New("growth: index out of range")
)
