package model

// Status is a user's presence classification.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Settable reports whether a user may pick s explicitly. Offline is derived
// from having no connections and cannot be set.
func (s Status) Settable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	}
	return false
}
