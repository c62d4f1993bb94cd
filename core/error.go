package core

import "errors"

var (
	// ErrRoomNotFound is returned when a room does not exist, either because
	// the id was never allocated or because the sweep has already evicted it.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a third distinct participant attempts to
	// join a room.
	ErrRoomFull = errors.New("room full")
)
