package decisions

import (
	"time"

	"github.com/google/uuid"
	"github.com/serroba/admission/internal/keys"
)

// TopicDecided carries one event per admission decision taken through the HTTP API.
const TopicDecided = "admission.decided"

// Decision is emitted every time a record call is answered. ID is assigned once at publish time,
// so a redelivered event still names the same decision.
type Decision struct {
	ID            uuid.UUID `json:"id"`
	Algorithm     string    `json:"algorithm"`
	Prefix        string    `json:"prefix"`
	Resource      string    `json:"resource"`
	Subject       string    `json:"subject"`
	WindowSeconds int64     `json:"windowSeconds"`
	Allowed       bool      `json:"allowed"`
	DecidedAt     time.Time `json:"decidedAt"`
	ClientIP      string    `json:"clientIp,omitempty"`
}

// Identity returns the caller tuple the decision was taken for.
func (d *Decision) Identity() keys.Identity {
	return keys.Identity{Prefix: d.Prefix, Resource: d.Resource, Subject: d.Subject}
}

// Window returns the window the decision was taken over.
func (d *Decision) Window() time.Duration {
	return time.Duration(d.WindowSeconds) * time.Second
}
