package spam

import (
	"strings"
	"unicode"

	"github.com/mkovacs/mailroom/internal/models"
)

// contentScoreCap bounds the content signal. Keyword scanning is the
// weakest evidence source and must never dominate the composite on its own.
const contentScoreCap = 0.3

var subjectSpamPhrases = []string{
	"urgent",
	"winner",
	"congratulations",
	"act now",
	"free money",
	"limited time",
	"verify your account",
	"you have been selected",
	"claim your",
	"final notice",
}

var bodySpamPhrases = []string{
	"click here",
	"buy now",
	"risk free",
	"no obligation",
	"unsubscribe now",
	"wire transfer",
	"this is not spam",
	"100% free",
	"double your",
	"earn extra cash",
}

// contentScore scans subject and body text for spam phrasing and shouty
// subjects. Capped at contentScoreCap.
func contentScore(msg *models.Message) float64 {
	score := 0.0

	subject := strings.ToLower(msg.Subject)
	for _, phrase := range subjectSpamPhrases {
		if strings.Contains(subject, phrase) {
			score += 0.1
		}
	}

	body := strings.ToLower(msg.TextBody)
	if body == "" {
		body = strings.ToLower(msg.Body)
	}
	for _, phrase := range bodySpamPhrases {
		if strings.Contains(body, phrase) {
			score += 0.05
		}
	}

	if excessiveCaps(msg.Subject) {
		score += 0.1
	}

	if score > contentScoreCap {
		return contentScoreCap
	}
	return score
}

// excessiveCaps reports whether more than half of the subject's letters are
// uppercase. Short subjects are exempt so "RSVP" or "FYI: lunch" do not
// trigger it.
func excessiveCaps(subject string) bool {
	letters, upper := 0, 0
	for _, r := range subject {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters > 10 && upper*2 > letters
}
