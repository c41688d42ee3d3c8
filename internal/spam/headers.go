package spam

import (
	"net/mail"
	"strings"

	"github.com/mkovacs/mailroom/internal/models"
	"github.com/mkovacs/mailroom/internal/threads"
)

// headerScore inspects authentication headers and envelope oddities. Each
// signal contributes a small delta; the sum is clamped to [0, 1]. Signals are
// substring checks, not full SPF/DKIM verification: the upstream server
// already recorded its verdict in these headers.
func headerScore(msg *models.Message) float64 {
	headers := parseHeaders(msg.RawHeaders)
	score := 0.0

	spf := strings.ToLower(headers.Get("Received-SPF"))
	switch {
	case strings.Contains(spf, "softfail"):
		score += 0.2
	case strings.Contains(spf, "fail"):
		score += 0.4
	case strings.Contains(spf, "none"):
		score += 0.1
	case strings.Contains(spf, "pass"):
		score -= 0.1
	}

	authResults := strings.ToLower(headers.Get("Authentication-Results"))
	switch {
	case strings.Contains(authResults, "dkim=fail"):
		score += 0.3
	case strings.Contains(authResults, "dkim=pass"):
		score -= 0.1
	case headers.Get("Dkim-Signature") == "":
		score += 0.1
	}
	switch {
	case strings.Contains(authResults, "dmarc=fail"):
		score += 0.4
	case strings.Contains(authResults, "dmarc=pass"):
		score -= 0.1
	}

	sender := ""
	if len(msg.From) > 0 {
		sender = threads.BareAddress(msg.From[0])
	}

	returnPath := strings.TrimSpace(headers.Get("Return-Path"))
	if returnPath == "<>" {
		// Null return path outside of bounce traffic is a classic spam tell.
		score += 0.3
	} else if returnPath != "" && sender != "" {
		if threads.BareAddress(returnPath) != sender {
			score += 0.2
		}
	}

	if strings.Contains(sender, "noreply") || strings.Contains(sender, "no-reply") {
		score += 0.1
	}
	if sender == "" && len(msg.From) > 0 && strings.Contains(msg.From[0], "<>") {
		score += 0.3
	}

	return clamp01(score)
}

// parseHeaders reads a bare header block. Metadata-only messages carry a
// header subset and fully hydrated ones the complete block; either parses
// the same way. A malformed or empty block yields an empty header map.
func parseHeaders(raw string) mail.Header {
	if strings.TrimSpace(raw) == "" {
		return mail.Header{}
	}
	m, err := mail.ReadMessage(strings.NewReader(raw + "\r\n\r\n"))
	if err != nil {
		return mail.Header{}
	}
	return m.Header
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
