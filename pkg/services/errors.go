package services

import "errors"

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrTerminalStatus is returned when updating a task that already reached
	// a terminal status
	ErrTerminalStatus = errors.New("task already in terminal status")
)
