package alarmid

import "errors"

// ErrUnknownLevel is returned by ParseLevel for an unrecognised level name.
var ErrUnknownLevel = errors.New("alarmid: unknown level")
