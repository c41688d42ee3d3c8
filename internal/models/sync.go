package models

// SyncResult is the structured outcome of one sync operation. Sync entry
// points always return a result instead of failing outright so callers can
// render partial success.
type SyncResult struct {
	Success bool   `json:"success"`
	Synced  int    `json:"synced"`
	Errors  int    `json:"errors"`
	Message string `json:"message,omitempty"`
}

// ProgressEvent is emitted after each processed message and at folder
// boundaries. Total is nil until the remote folder status is known.
type ProgressEvent struct {
	AccountID      string  `json:"account_id"`
	FolderID       string  `json:"folder_id,omitempty"`
	Folder         string  `json:"folder"`
	Current        int     `json:"current"`
	Total          *int    `json:"total,omitempty"`
	RemoteUID      *uint32 `json:"remote_uid,omitempty"`
	MessageSummary string  `json:"message_summary,omitempty"`
}
