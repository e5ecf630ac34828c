package mail

import (
	"strings"
	"testing"
	"time"
)

func TestApplyVars(t *testing.T) {
	t.Run("substitutes known placeholders", func(t *testing.T) {
		got := applyVars("hello %%name%%", map[string]string{"name": "world"})
		if got != "hello world" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("strips unresolved placeholders", func(t *testing.T) {
		got := applyVars("hello %%missing%%!", nil)
		if got != "hello !" {
			t.Errorf("got %q", got)
		}
	})
}

func TestLowStock(t *testing.T) {
	msg := LowStock("Dune", "11111111-2222-3333-4444-555555555555", 1)
	if msg.Recipient != SupplyRecipient {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if !strings.Contains(msg.Subject, "Dune") {
		t.Errorf("subject missing title: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "11111111-2222-3333-4444-555555555555") {
		t.Errorf("body missing isbn: %q", msg.Body)
	}
	if strings.Contains(msg.Body, "%%") {
		t.Errorf("unresolved placeholder in body: %q", msg.Body)
	}
}

func TestReminder(t *testing.T) {
	due := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := Reminder("reader@example.com", "Dune", "abc", due)
	if msg.Recipient != "reader@example.com" {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if !strings.Contains(msg.Body, due.Format(time.RFC1123)) {
		t.Errorf("body missing due date: %q", msg.Body)
	}
}

func TestMilestone(t *testing.T) {
	msg := Milestone(200_100)
	if msg.Recipient != ManagementRecipient {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if !strings.Contains(msg.Body, "2001.00") {
		t.Errorf("body missing formatted balance: %q", msg.Body)
	}
}
