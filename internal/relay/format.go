package relay

import (
	"fmt"
	"regexp"
	"strings"

	"maildesk/internal/model"
	"maildesk/pkg/util"
)

// Presenter renders tickets and summaries as operator-facing text.
type Presenter struct {
	previewChars int
}

func NewPresenter(previewChars int) *Presenter {
	return &Presenter{previewChars: previewChars}
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// sanitize strips control characters and collapses runs of blank
// lines. Customer-controlled text goes through here before it reaches
// the operator channel.
func sanitize(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func (p *Presenter) preview(s string) string {
	s = sanitize(s)
	if len(s) > p.previewChars {
		return util.TruncateUTF8(s, p.previewChars) + "..."
	}
	return s
}

// Present renders a new-ticket notification with the action menu that
// matches the ticket's status. Drafted tickets offer the full
// confirm/edit/regenerate set; forwarded tickets only reply/archive.
func (p *Presenter) Present(t *model.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📬 Ticket %s\n", t.ID)
	fmt.Fprintf(&b, "From: %s\n", sanitize(t.FromEmail))
	fmt.Fprintf(&b, "Subject: %s\n", p.preview(t.Subject))
	if t.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", t.Category)
	}
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "\n%s\n", p.preview(t.PlainMessage))

	switch t.Status {
	case model.StatusDrafted:
		fmt.Fprintf(&b, "\n--- Proposed reply ---\n%s\n", sanitize(t.DraftText))
		fmt.Fprintf(&b, "\nActions:\n")
		fmt.Fprintf(&b, "  confirm %s          send this draft\n", t.ID)
		fmt.Fprintf(&b, "  edit %s <text>      send a corrected version\n", t.ID)
		fmt.Fprintf(&b, "  regenerate %s       new draft from the model\n", t.ID)
		fmt.Fprintf(&b, "  reply %s <text>     send your own reply\n", t.ID)
		fmt.Fprintf(&b, "  archive %s          close without replying\n", t.ID)
	case model.StatusForwarded:
		fmt.Fprintf(&b, "\n⚠️ No usable draft, manual reply needed.\n")
		fmt.Fprintf(&b, "\nActions:\n")
		fmt.Fprintf(&b, "  reply %s <text>     send your reply\n", t.ID)
		fmt.Fprintf(&b, "  archive %s          close without replying\n", t.ID)
	}
	return b.String()
}

// FormatActiveList renders the tickets still needing attention.
func (p *Presenter) FormatActiveList(tickets []*model.Ticket) string {
	if len(tickets) == 0 {
		return "No tickets need attention. 🎉"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tickets needing attention (%d):\n", len(tickets))
	for _, t := range tickets {
		fmt.Fprintf(&b, "• %s [%s] %s — %s\n",
			t.ID, t.Status, sanitize(t.FromEmail), p.preview(t.Subject))
	}
	return b.String()
}

// FormatRecentList renders the most recent tickets, newest first.
func (p *Presenter) FormatRecentList(tickets []*model.Ticket) string {
	if len(tickets) == 0 {
		return "No tickets yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent tickets:\n")
	for _, t := range tickets {
		category := string(t.Category)
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(&b, "• %s [%s/%s] %s\n", t.ID, t.Status, category, p.preview(t.Subject))
	}
	return b.String()
}

// FormatTicketDetail renders the full ticket including response history.
func (p *Presenter) FormatTicketDetail(t *model.Ticket, responses []*model.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s\n", t.ID)
	fmt.Fprintf(&b, "From: %s\n", sanitize(t.FromEmail))
	fmt.Fprintf(&b, "Subject: %s\n", sanitize(t.Subject))
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	if t.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", t.Category)
	}
	fmt.Fprintf(&b, "Received: %s\n", t.ReceivedAt.Format("2006-01-02 15:04:05 MST"))
	if t.RespondedAt != nil {
		fmt.Fprintf(&b, "Responded: %s\n", t.RespondedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&b, "\n%s\n", sanitize(t.PlainMessage))
	if t.DraftText != "" {
		fmt.Fprintf(&b, "\n--- Current draft ---\n%s\n", sanitize(t.DraftText))
	}
	for i, r := range responses {
		fmt.Fprintf(&b, "\n--- Reply %d (%s) ---\n%s\n",
			i+1, r.SentAt.Format("2006-01-02 15:04"), sanitize(r.Text))
	}
	return b.String()
}

// FormatStatusSummary renders the system-level ticket counts.
func (p *Presenter) FormatStatusSummary(counts map[model.Status]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	var b strings.Builder
	fmt.Fprintf(&b, "System status — %d tickets\n", total)
	order := []model.Status{
		model.StatusReceived, model.StatusClassified, model.StatusDrafted,
		model.StatusForwarded, model.StatusResponded, model.StatusFiltered,
		model.StatusArchived, model.StatusFailed,
	}
	for _, s := range order {
		if counts[s] > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", s, counts[s])
		}
	}
	return b.String()
}

// FormatKBList renders the knowledge base document listing.
func (p *Presenter) FormatKBList(docs []string) string {
	if len(docs) == 0 {
		return "Knowledge base is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge base (%d documents):\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "• %s\n", d)
	}
	return b.String()
}

// HelpText is the command reference shown for help and for any
// unrecognized input.
func HelpText() string {
	return `Commands:
  confirm <id>           send the current draft
  edit <id> <text>       send edited text instead of the draft
  regenerate <id>        generate a new draft
  reply <id> <text>      send your own reply
  archive <id>           close a ticket without replying
  ticket <id>            show full ticket detail
  list                   tickets needing attention
  recent                 latest tickets, any status
  status                 system summary
  kb                     list knowledge documents
  kb add <name> <text>   add a knowledge document
  kb reload              reload the knowledge directory
  help                   this message`
}
