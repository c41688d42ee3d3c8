package imap

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/mkovacs/mailroom/internal/models"
)

// parseMessage converts a fetched IMAP message to the local model. In
// metadata mode only the envelope and the selected header section are
// consumed; body fields stay empty so the store's monotonic hydration keeps
// any previously fetched body.
func parseMessage(imapMsg *imap.Message, section *imap.BodySectionName, mode FetchMode) (*models.Message, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &models.Message{
		RemoteUID: imapMsg.Uid,
		Flags:     append([]string(nil), imapMsg.Flags...),
	}

	for _, flag := range imapMsg.Flags {
		switch flag {
		case imap.SeenFlag:
			msg.IsRead = true
		case imap.FlaggedFlag:
			msg.IsStarred = true
		}
	}

	if env := imapMsg.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.MessageID = env.MessageId
		msg.InReplyTo = env.InReplyTo
		msg.From = formatAddressList(env.From)
		msg.To = formatAddressList(env.To)
		msg.CC = formatAddressList(env.Cc)
		msg.BCC = formatAddressList(env.Bcc)
		msg.ReplyTo = formatAddressList(env.ReplyTo)
		if !env.Date.IsZero() {
			date := env.Date
			msg.Date = &date
		}
	}

	bodyReader := imapMsg.GetBody(section)
	if bodyReader == nil {
		return msg, nil
	}

	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		return msg, fmt.Errorf("failed to read fetched section: %w", err)
	}

	switch mode {
	case FetchFull:
		if err := parseFullBody(raw, msg); err != nil {
			// Headers and envelope are still useful without a parsed body.
			return msg, nil
		}
	default:
		parseHeaderSection(raw, msg)
	}

	return msg, nil
}

// parseHeaderSection fills header-derived fields from a metadata fetch.
func parseHeaderSection(raw []byte, msg *models.Message) {
	msg.RawHeaders = string(raw)

	env, err := enmime.ReadEnvelope(bytes.NewReader(append(raw, '\r', '\n')))
	if err != nil {
		return
	}

	if refs := env.GetHeader("References"); refs != "" {
		msg.References = parseReferences(refs)
	}
	if msg.InReplyTo == "" {
		msg.InReplyTo = strings.TrimSpace(env.GetHeader("In-Reply-To"))
	}
}

// parseFullBody parses a complete raw message with enmime.
func parseFullBody(raw []byte, msg *models.Message) error {
	if headerEnd := bytes.Index(raw, []byte("\r\n\r\n")); headerEnd >= 0 {
		msg.RawHeaders = string(raw[:headerEnd+2])
	} else if headerEnd := bytes.Index(raw, []byte("\n\n")); headerEnd >= 0 {
		msg.RawHeaders = string(raw[:headerEnd+1])
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse message body: %w", err)
	}

	msg.TextBody = env.Text
	msg.HTMLBody = env.HTML
	if env.HTML != "" {
		msg.Body = env.HTML
	} else {
		msg.Body = env.Text
	}

	if refs := env.GetHeader("References"); refs != "" && len(msg.References) == 0 {
		msg.References = parseReferences(refs)
	}
	if msg.InReplyTo == "" {
		msg.InReplyTo = strings.TrimSpace(env.GetHeader("In-Reply-To"))
	}

	contentType := strings.ToLower(env.GetHeader("Content-Type"))
	msg.Encrypted = strings.Contains(contentType, "multipart/encrypted") || strings.Contains(contentType, "pgp-encrypted")
	msg.Signed = strings.Contains(contentType, "multipart/signed") || strings.Contains(contentType, "pkcs7-signature")

	for _, part := range env.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
			Data:        part.Content,
		})
	}
	for _, part := range env.Inlines {
		if part.FileName == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
			ContentID:   part.ContentID,
			Data:        part.Content,
		})
	}

	return nil
}

// parseReferences splits a References header into its message-id tokens,
// keeping the angle-bracket form used by envelope message ids.
func parseReferences(header string) []string {
	fields := strings.FieldsFunc(header, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == ','
	})

	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field != "" {
			refs = append(refs, field)
		}
	}
	return refs
}

// formatAddress formats an IMAP address to a string.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

// formatAddressList formats a list of IMAP addresses.
func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		formatted := formatAddress(address)
		if formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
