// Package rpc is the wire contract between the sync client and the
// document service: message types, a JSON codec and the hand written
// service descriptor used by both sides.
package rpc

import "github.com/dmitrijs2005/notesync/internal/models"

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// PullRequest asks for every entity of the user path changed after Since.
type PullRequest struct {
	UserPath string `json:"user_path"`
	Since    int64  `json:"since"`
}

type PullResponse struct {
	Entities []models.Entity `json:"entities"`
	Cursor   int64           `json:"cursor"`
}

// PushRequest carries one mutation. BaseVersion is the server version the
// device last saw for the entity (0 for never synced).
type PushRequest struct {
	UserPath    string                `json:"user_path"`
	DeviceID    string                `json:"device_id"`
	Record      models.MutationRecord `json:"record"`
	BaseVersion int64                 `json:"base_version"`
}

type PushStatus string

const (
	PushAck      PushStatus = "ack"
	PushConflict PushStatus = "conflict"
	PushRejected PushStatus = "rejected"
)

// PushResponse reports the outcome of a push. Entity is the current server
// copy for both Ack and Conflict.
type PushResponse struct {
	Status PushStatus     `json:"status"`
	Entity *models.Entity `json:"entity,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type FetchRequest struct {
	UserPath string   `json:"user_path"`
	IDs      []string `json:"ids"`
}

type FetchResponse struct {
	Entities []models.Entity `json:"entities"`
}

type WatchRequest struct {
	UserPath string `json:"user_path"`
}

// WatchEvent announces that the user's version moved to Version.
type WatchEvent struct {
	Version int64 `json:"version"`
}
