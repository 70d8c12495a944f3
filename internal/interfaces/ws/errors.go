package ws

import "errors"

var (
	errInvalidLevels   = errors.New("levels must be an integer between 1 and 1000")
	errInvalidInterval = errors.New("interval must be a duration of at least 10ms")
)
