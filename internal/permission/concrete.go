package permission

import (
	"encoding/json"
	"fmt"
	"time"
)

// Concrete is a stored, deduplicated permission row. Identity lives in
// Spec and is frozen under NaturalKey; Label is the only mutable field.
// Rows are created on first ingestion of an unseen natural key and are
// never deleted by this subsystem.
type Concrete struct {
	ID         string
	Type       Type
	NaturalKey string
	Label      string
	Spec       Spec
	CreatedAt  time.Time
}

type concreteJSON struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	NaturalKey string          `json:"natural_key"`
	Label      string          `json:"label,omitempty"`
	Spec       json.RawMessage `json:"spec"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON encodes the row with its typed spec inline, so rows round-
// trip through the Redis capability cache.
func (c Concrete) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(c.Spec)
	if err != nil {
		return nil, fmt.Errorf("encoding %s spec: %w", c.Type, err)
	}
	return json.Marshal(concreteJSON{
		ID:         c.ID,
		Type:       c.Type,
		NaturalKey: c.NaturalKey,
		Label:      c.Label,
		Spec:       raw,
		CreatedAt:  c.CreatedAt,
	})
}

// UnmarshalJSON decodes the row, dispatching the spec payload on Type.
func (c *Concrete) UnmarshalJSON(data []byte) error {
	var cj concreteJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	spec, err := DecodeSpec(cj.Type, cj.Spec)
	if err != nil {
		return err
	}
	c.ID = cj.ID
	c.Type = cj.Type
	c.NaturalKey = cj.NaturalKey
	c.Label = cj.Label
	c.Spec = spec
	c.CreatedAt = cj.CreatedAt
	return nil
}
