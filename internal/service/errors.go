package service

import "errors"

var (
	// ErrInvalidArgument marks a request the caller must correct
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when a skill already has an active task
	ErrConflict = errors.New("conflict")
)
