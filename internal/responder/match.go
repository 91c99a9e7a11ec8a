package responder

import (
	"regexp"
	"strings"

	"chatdesk/internal/storage"
)

// MatchTemplate returns the first active template with a keyword that occurs
// in text as a whole word, ignoring case. Templates are checked in the order
// given.
func MatchTemplate(templates []storage.MessageTemplate, text string) (storage.MessageTemplate, bool) {
	for _, t := range templates {
		if !t.IsActive {
			continue
		}
		for _, kw := range t.Keywords {
			if containsWord(text, kw) {
				return t, true
			}
		}
	}
	return storage.MessageTemplate{}, false
}

func containsWord(text, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(keyword) + `($|\W)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
