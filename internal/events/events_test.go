package events

import "testing"

func TestSubject(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      string
	}{
		{"simple", "click", "events.click"},
		{"uppercase", "PageView", "events.pageview"},
		{"hyphenated", "add-to-cart", "events.add_to_cart"},
		{"dots stripped", "form.submit", "events.formsubmit"},
		{"spaces stripped", "custom event", "events.customevent"},
		{"empty", "", "events.unknown"},
		{"only invalid chars", "***", "events.unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subject(Accepted{EventType: tt.eventType})
			if got != tt.want {
				t.Errorf("Subject(%q) = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}
