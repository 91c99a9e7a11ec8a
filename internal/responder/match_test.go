package responder

import (
	"testing"

	"chatdesk/internal/storage"
)

func TestMatchTemplate(t *testing.T) {
	templates := []storage.MessageTemplate{
		{ID: "off", IsActive: false, Keywords: []string{"order"}},
		{ID: "order", IsActive: true, Keywords: []string{"order", "track"}},
		{ID: "hours", IsActive: true, Keywords: []string{"business hours", "open"}},
		{ID: "none", IsActive: true},
	}

	cases := []struct {
		text   string
		wantID string
	}{
		{text: "Where is my ORDER?", wantID: "order"},
		{text: "can you track it", wantID: "order"},
		{text: "What are your business hours", wantID: "hours"},
		{text: "are you open.", wantID: "hours"},
		{text: "disorderly", wantID: ""},
		{text: "opened yesterday", wantID: ""},
		{text: "", wantID: ""},
	}
	for _, tc := range cases {
		got, ok := MatchTemplate(templates, tc.text)
		if tc.wantID == "" {
			if ok {
				t.Fatalf("%q: expected no match, got %s", tc.text, got.ID)
			}
			continue
		}
		if !ok || got.ID != tc.wantID {
			t.Fatalf("%q: expected %s, got %s (ok=%v)", tc.text, tc.wantID, got.ID, ok)
		}
	}
}
