package projects

import "errors"

var (
	// ErrNameTaken is returned when the project name is in use.
	ErrNameTaken = errors.New("project name already taken")
	// ErrGroupExists is returned when a backing group name is already
	// held, which can happen without a same-named project existing.
	ErrGroupExists = errors.New("project group already exists")
	// ErrNotFound is returned when the project does not exist.
	ErrNotFound = errors.New("project not found")
	// ErrDescriptionTooLong is returned when the description exceeds the
	// limit.
	ErrDescriptionTooLong = errors.New("description too long")
)
