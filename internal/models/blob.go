package models

// UploadState tracks a PendingBlob through the upload coordinator.
type UploadState string

const (
	UploadQueued    UploadState = "queued"
	UploadUploading UploadState = "uploading"
	UploadDone      UploadState = "done"
	UploadFailed    UploadState = "failed"
)

// PendingBlob is media captured on the device that still has to reach the
// blob store. Once done, RemoteKey is written into Field of the owner.
type PendingBlob struct {
	LocalKey      string      `json:"local_key"`
	OwnerEntityID string      `json:"owner_entity_id"`
	Field         string      `json:"field"`
	PayloadRef    string      `json:"payload_ref"`
	State         UploadState `json:"state"`
	RemoteKey     string      `json:"remote_key,omitempty"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	UpdatedAt     int64       `json:"updated_at"`
}
