package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoContacts         = errors.New("no emergency contacts configured")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAcquisitionTimeout = errors.New("location fix not acquired in time")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrSessionActive      = errors.New("a session is already active")
	ErrWatchActive        = errors.New("location watch already active")
)
