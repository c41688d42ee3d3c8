package threads

import "strings"

// reply/forward prefixes stripped during subject normalization. "Aw:" is the
// German Outlook variant of "Re:".
var subjectPrefixes = []string{"re:", "fwd:", "fw:", "aw:"}

// NormalizeSubject strips reply/forward prefixes (case-insensitive, repeated)
// and trims whitespace, so "Re: Re: Project Plan" and "Project Plan" compare
// equal for the thread fallback heuristic.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)

	for {
		stripped := false
		lower := strings.ToLower(s)
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}
