package models

import "time"

// Agent represents one autonomous participant in the fleet. Agent records
// are owned by the external control plane; the hub only reads them at
// connect time.
type Agent struct {
	ID         string    `json:"agent_id"`
	Name       string    `json:"name,omitempty"`
	Category   string    `json:"category,omitempty"`
	OrgID      string    `json:"org_id,omitempty"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
