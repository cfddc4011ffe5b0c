package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrStateConflict  = errors.New("alert state changed concurrently")
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
	ErrCycleRunning   = errors.New("check cycle already in progress")
	ErrLockHeld       = errors.New("lock already held")
	ErrNoAdapter      = errors.New("no source adapter matches locator")
)
