package models

import (
	"net"
	"strconv"
	"time"
)

// Account holds the connection identity for one remote mailbox.
// Accounts are treated as immutable during a sync pass; the engine only
// ever references them by ID.
type Account struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	IMAPHost          string    `json:"imap_host"`
	IMAPPort          int       `json:"imap_port"`
	IMAPUsername      string    `json:"imap_username"`
	EncryptedPassword []byte    `json:"-"`
	UseTLS            bool      `json:"use_tls"`
	SpamFolderName    string    `json:"spam_folder_name"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Address returns the host:port pair for dialing the IMAP server.
// Defaults to port 993 when no port is configured.
func (a *Account) Address() string {
	port := a.IMAPPort
	if port == 0 {
		port = 993
	}
	return net.JoinHostPort(a.IMAPHost, strconv.Itoa(port))
}
