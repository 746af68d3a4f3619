package session

import "github.com/google/uuid"

// NewSessionIdentifier returns a fresh random session identifier used to
// correlate a control connection with its data connection, which matters
// most for UDP where there is no accept-time correlation the way there is
// for a second TCP connection.
func NewSessionIdentifier() string {
	return uuid.NewString()
}
