package schema

import "time"

// Turn is one input/output exchange within a Session.
type Turn struct {
	Input     Message
	Output    Message
	Timestamp time.Time
}

// Session is a generic, orderable record of a conversation's turns and any
// associated state. It backs the task_history memory block mirrored to the
// stateful agent service.
type Session struct {
	ID        string
	Turns     []Turn
	State     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
