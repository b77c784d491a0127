package models

import "time"

// SpaceMode controls the room topology of a space.
type SpaceMode string

const (
	// SpaceModeSingle gives the space exactly one room.
	SpaceModeSingle SpaceMode = "single"
	// SpaceModeMulti allows named sub-rooms with a designated default.
	SpaceModeMulti SpaceMode = "multi"
)

// SpaceState is the lifecycle state of a space.
type SpaceState string

const (
	SpaceStateActive   SpaceState = "active"
	SpaceStateFinished SpaceState = "finished"
)

// DefaultRoomName is the room used when a request carries no room.
const DefaultRoomName = "main"

// Space is an isolated collaborative session containing rows, chat and rooms.
type Space struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Mode        SpaceMode  `json:"mode"`
	Rooms       []string   `json:"rooms"`
	DefaultRoom string     `json:"default_room"`
	State       SpaceState `json:"state"`
	IsPrivate   bool       `json:"is_private"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// HasRoom reports whether name is a valid room of the space.
func (s *Space) HasRoom(name string) bool {
	if s.Mode == SpaceModeSingle {
		return name == s.DefaultRoom
	}
	for _, r := range s.Rooms {
		if r == name {
			return true
		}
	}
	return false
}
