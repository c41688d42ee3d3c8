package models

import "time"

// Folder is a locally mirrored remote mailbox folder.
// (AccountID, Path) is unique.
type Folder struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Subscribed  bool      `json:"subscribed"`
	UnreadCount int       `json:"unread_count"`
	TotalCount  int       `json:"total_count"`
	Attributes  []string  `json:"attributes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one mail message mirrored from a remote folder.
// (AccountID, FolderID, RemoteUID) is unique and the message ID is derived
// deterministically from that triple, so re-syncing the same remote message
// always targets the same local row.
//
// Body, HTMLBody, TextBody and RawHeaders are plaintext in memory only; the
// store encrypts them before they ever touch a database column.
type Message struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	FolderID          string     `json:"folder_id"`
	RemoteUID         uint32     `json:"remote_uid"`
	MessageID         string     `json:"message_id"`
	Subject           string     `json:"subject"`
	From              []string   `json:"from"`
	To                []string   `json:"to"`
	CC                []string   `json:"cc,omitempty"`
	BCC               []string   `json:"bcc,omitempty"`
	ReplyTo           []string   `json:"reply_to,omitempty"`
	Date              *time.Time `json:"date,omitempty"`
	Body              string     `json:"body"`
	HTMLBody          string     `json:"html_body,omitempty"`
	TextBody          string     `json:"text_body,omitempty"`
	RawHeaders        string     `json:"raw_headers,omitempty"`
	Flags             []string   `json:"flags"`
	IsRead            bool       `json:"is_read"`
	IsStarred         bool       `json:"is_starred"`
	ThreadID          string     `json:"thread_id"`
	InReplyTo         string     `json:"in_reply_to,omitempty"`
	References        []string   `json:"references,omitempty"`
	SpamScore         *float64   `json:"spam_score,omitempty"`
	SpamCheckedAt     *time.Time `json:"spam_checked_at,omitempty"`
	Encrypted         bool       `json:"encrypted"`
	Signed            bool       `json:"signed"`
	SignatureVerified *bool      `json:"signature_verified,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasBody reports whether any body-like content has been hydrated.
func (m *Message) HasBody() bool {
	return m.Body != "" || m.HTMLBody != "" || m.TextBody != ""
}

// AllAddresses returns the union of from/to/cc, used by the thread
// reconstructor's address-overlap heuristic.
func (m *Message) AllAddresses() []string {
	out := make([]string, 0, len(m.From)+len(m.To)+len(m.CC))
	out = append(out, m.From...)
	out = append(out, m.To...)
	out = append(out, m.CC...)
	return out
}

// Attachment is owned exclusively by its message. Attachments are
// insert-once, deduplicated on (EmailID, Filename).
type Attachment struct {
	ID          string `json:"id"`
	EmailID     string `json:"email_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	Data        []byte `json:"-"`
}

// BlacklistEntry is a manually curated spam blacklist row. A nil AccountID
// makes the entry global.
type BlacklistEntry struct {
	ID           string  `json:"id"`
	AccountID    *string `json:"account_id,omitempty"`
	EmailAddress string  `json:"email_address"`
	Domain       string  `json:"domain,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// GreylistEntry tracks per-sender first/last seen times and an optional
// active throttling window.
type GreylistEntry struct {
	ID           string     `json:"id"`
	AccountID    *string    `json:"account_id,omitempty"`
	EmailAddress string     `json:"email_address"`
	Domain       string     `json:"domain,omitempty"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	BlockUntil   *time.Time `json:"block_until,omitempty"`
}

// Blocked reports whether the entry has an active block window at t.
func (g *GreylistEntry) Blocked(t time.Time) bool {
	return g.BlockUntil != nil && t.Before(*g.BlockUntil)
}
