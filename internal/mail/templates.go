// Package mail composes the simulated transactional emails. Nothing here
// talks to a network: rendered messages are persisted as simulated_emails
// rows by the engines and job handlers, inside their transactions.
//
// templates.go -- subject/body templates with %%key%% placeholder
// substitution.
package mail

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/money"
)

// Fixed recipients for operational mail.
const (
	SupplyRecipient     = "supply@library.com"
	ManagementRecipient = "management@dummy-library.com"
)

// Message is a rendered email ready to be recorded.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips
// any that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// LowStock notifies the supply desk that a book is down to its last copy.
func LowStock(title, isbn string, remaining int) Message {
	vars := map[string]string{
		"title":     title,
		"isbn":      isbn,
		"remaining": strconv.Itoa(remaining),
	}
	body := "Stock alert for \"%%title%%\" (ISBN %%isbn%%).\n\n" +
		"Only %%remaining%% copy remains on the shelf. A restock order has been\n" +
		"scheduled and will be delivered automatically once it runs."
	return Message{
		Recipient: SupplyRecipient,
		Subject:   applyVars("Low stock: %%title%%", vars),
		Body:      applyVars(body, vars),
	}
}

// Reminder nudges a reader about an upcoming due date.
func Reminder(recipient, title, isbn string, dueAt time.Time) Message {
	vars := map[string]string{
		"title": title,
		"isbn":  isbn,
		"dueAt": dueAt.UTC().Format(time.RFC1123),
	}
	body := "This is a reminder that \"%%title%%\" (ISBN %%isbn%%) is due back\n" +
		"at %%dueAt%%.\n\n" +
		"Please return it to avoid keeping other readers waiting."
	return Message{
		Recipient: recipient,
		Subject:   applyVars("Due soon: %%title%%", vars),
		Body:      applyVars(body, vars),
	}
}

// Milestone congratulates management on the wallet crossing its revenue
// threshold. Sent exactly once for the lifetime of the wallet.
func Milestone(balanceCents int64) Message {
	vars := map[string]string{
		"balance": money.FormatCents(balanceCents),
	}
	body := "The library wallet balance has crossed $2000 and now stands at\n" +
		"$%%balance%%.\n\n" +
		"Well done. This notice is sent only once."
	return Message{
		Recipient: ManagementRecipient,
		Subject:   "Library revenue milestone reached",
		Body:      applyVars(body, vars),
	}
}
