package util

import "time"

// Trigger represents a button event. Value carries the number of poll
// intervals the button was held before it was released.
type Trigger struct {
	ID        string
	Value     int
	Timestamp time.Time
}

// NewTrigger creates a new Trigger instance.
func NewTrigger(id string, value int, time time.Time) *Trigger {
	inst := Trigger{
		ID:        id,
		Value:     value,
		Timestamp: time,
	}
	return &inst
}
