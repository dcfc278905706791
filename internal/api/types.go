package api

import (
	"encoding/json"
	"time"
)

// RemoteRecord is the service's view of a single record. Fields carries the
// entity-specific payload unparsed; the sync engine stores it verbatim and
// only the domain layer decodes it.
type RemoteRecord struct {
	ServerID   string          `json:"server_id"`
	EntityType string          `json:"entity_type"`
	Fields     json.RawMessage `json:"fields"`
	Deleted    bool            `json:"deleted,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ChangePage is one page of remote changes for an entity collection.
// NextCheckpoint is the server-issued cursor for the next fetch; the
// service returns it unchanged when there are no new changes, and the
// client rejects a page that omits it.
type ChangePage struct {
	Records        []RemoteRecord `json:"records"`
	NextCheckpoint string         `json:"next_checkpoint"`
	HasMore        bool           `json:"has_more,omitempty"`
}
