package spam

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkovacs/mailroom/internal/models"
)

func TestHeaderScoreAuthenticatedMail(t *testing.T) {
	msg := &models.Message{
		From: []string{"ada@example.com"},
		RawHeaders: "Received-SPF: pass (mx: domain designates sender)\r\n" +
			"Authentication-Results: mx; dkim=pass; dmarc=pass\r\n" +
			"Return-Path: <ada@example.com>\r\n",
	}
	assert.Zero(t, headerScore(msg))
}

func TestHeaderScoreFailedAuthentication(t *testing.T) {
	msg := &models.Message{
		From: []string{"mallory@scam.example"},
		RawHeaders: "Received-SPF: fail (mx: domain does not designate sender)\r\n" +
			"Authentication-Results: mx; dkim=fail; dmarc=fail\r\n",
	}
	// 0.4 spf + 0.3 dkim + 0.4 dmarc, clamped.
	assert.InDelta(t, 1.0, headerScore(msg), 1e-9)
}

func TestHeaderScoreSoftfailBeforeFail(t *testing.T) {
	msg := &models.Message{
		From:       []string{"ada@example.com"},
		RawHeaders: "Received-SPF: softfail (mx: transitioning)\r\nDkim-Signature: v=1\r\n",
	}
	// softfail must not match the fail branch even though it contains "fail".
	assert.InDelta(t, 0.2, headerScore(msg), 1e-9)
}

func TestHeaderScoreReturnPathMismatch(t *testing.T) {
	msg := &models.Message{
		From:       []string{"ada@example.com"},
		RawHeaders: "Return-Path: <bounce@bulk.example>\r\nDkim-Signature: v=1\r\n",
	}
	assert.InDelta(t, 0.2, headerScore(msg), 1e-9)
}

func TestHeaderScoreNullReturnPath(t *testing.T) {
	msg := &models.Message{
		From:       []string{"ada@example.com"},
		RawHeaders: "Return-Path: <>\r\nDkim-Signature: v=1\r\n",
	}
	assert.InDelta(t, 0.3, headerScore(msg), 1e-9)
}

func TestHeaderScoreNoreplySender(t *testing.T) {
	msg := &models.Message{
		From:       []string{"noreply@shop.example"},
		RawHeaders: "Dkim-Signature: v=1\r\n",
	}
	assert.InDelta(t, 0.1, headerScore(msg), 1e-9)
}

func TestHeaderScoreMissingHeadersOnlyMissingDKIM(t *testing.T) {
	msg := &models.Message{From: []string{"ada@example.com"}}
	assert.InDelta(t, 0.1, headerScore(msg), 1e-9)
}

func TestContentScoreCleanMessage(t *testing.T) {
	msg := &models.Message{
		Subject:  "Minutes from Tuesday's meeting",
		TextBody: "Attached are the notes we discussed.",
	}
	assert.Zero(t, contentScore(msg))
}

func TestContentScoreKeywordHits(t *testing.T) {
	msg := &models.Message{
		Subject:  "Urgent: verify your account",
		TextBody: "Click here before it is too late.",
	}
	// two subject phrases and one body phrase
	assert.InDelta(t, 0.25, contentScore(msg), 1e-9)
}

func TestContentScoreCapped(t *testing.T) {
	msg := &models.Message{
		Subject:  "URGENT WINNER CONGRATULATIONS ACT NOW LIMITED TIME",
		TextBody: "click here buy now risk free no obligation unsubscribe now wire transfer",
	}
	assert.InDelta(t, contentScoreCap, contentScore(msg), 1e-9)
}

func TestContentScoreFallsBackToBodyField(t *testing.T) {
	msg := &models.Message{Subject: "Hello", Body: "Click here to win."}
	assert.InDelta(t, 0.05, contentScore(msg), 1e-9)
}

func TestExcessiveCaps(t *testing.T) {
	assert.True(t, excessiveCaps("LIMITED TIME OFFER JUST FOR YOU"))
	assert.False(t, excessiveCaps("FYI: lunch"))
	assert.False(t, excessiveCaps("A perfectly ordinary subject line"))
	assert.False(t, excessiveCaps(""))
}
