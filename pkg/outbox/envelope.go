package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	envelopeVersion = 1
	envelopeSource  = "tradepost"
)

// ActorRef names who caused the event. Role is empty for bare ids such as
// the system actors used by cron jobs.
type ActorRef struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// ParseActor splits an actor string of the form "role:user_id".
func ParseActor(actor string) *ActorRef {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil
	}
	role, id, ok := strings.Cut(actor, ":")
	if !ok || role == "" || id == "" || role == "system" {
		return &ActorRef{UserID: actor}
	}
	return &ActorRef{UserID: id, Role: role}
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	Source     string          `json:"source,omitempty"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var errEmptyData = errors.New("envelope data is empty")

// DecodeEnvelope parses a stored payload and checks it carries data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version == 0 || env.Version > envelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errEmptyData
	}
	return env, nil
}
