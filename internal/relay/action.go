// Package relay is the operator conversation surface: it turns raw
// operator messages into typed actions and renders ticket state into
// readable notifications. It knows nothing about how actions are
// executed.
package relay

import (
	"strings"
)

// ActionType enumerates everything an operator can ask for.
type ActionType string

const (
	ActionConfirm    ActionType = "confirm"    // send the current draft as-is
	ActionEdit       ActionType = "edit"       // replace the draft text, stay drafted
	ActionRegenerate ActionType = "regenerate" // discard the draft and ask the model again
	ActionReply      ActionType = "reply"      // send operator-written text, bypassing the draft
	ActionArchive    ActionType = "archive"    // close the ticket without replying
	ActionStatus     ActionType = "status"     // system summary
	ActionList       ActionType = "list"       // tickets needing attention
	ActionRecent     ActionType = "recent"     // latest tickets, any status
	ActionTicket     ActionType = "ticket"     // full detail for one ticket
	ActionKBList     ActionType = "kb_list"    // knowledge documents
	ActionKBAdd      ActionType = "kb_add"     // add a knowledge document
	ActionKBReload   ActionType = "kb_reload"  // reload the knowledge dir
	ActionHelp       ActionType = "help"
)

// Action is one parsed operator request.
type Action struct {
	Type     ActionType
	TicketID string
	Name     string // document name for kb_add
	Text     string // draft/reply text, or document content
}

// Interpret parses a raw operator message into an Action. Anything
// unrecognized maps to help: a typo must never silently do nothing.
func Interpret(raw string) Action {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "/")

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Action{Type: ActionHelp}
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "confirm", "send", "ok":
		if len(args) == 1 {
			return Action{Type: ActionConfirm, TicketID: args[0]}
		}
	case "edit":
		if len(args) >= 2 {
			return Action{Type: ActionEdit, TicketID: args[0], Text: rest(raw, 2)}
		}
	case "regenerate", "regen":
		if len(args) == 1 {
			return Action{Type: ActionRegenerate, TicketID: args[0]}
		}
	case "reply":
		if len(args) >= 2 {
			return Action{Type: ActionReply, TicketID: args[0], Text: rest(raw, 2)}
		}
	case "archive", "close":
		if len(args) == 1 {
			return Action{Type: ActionArchive, TicketID: args[0]}
		}
	case "status":
		if len(args) == 0 {
			return Action{Type: ActionStatus}
		}
	case "list":
		if len(args) == 0 {
			return Action{Type: ActionList}
		}
	case "recent":
		if len(args) == 0 {
			return Action{Type: ActionRecent}
		}
	case "ticket", "show":
		if len(args) == 1 {
			return Action{Type: ActionTicket, TicketID: args[0]}
		}
	case "kb":
		return interpretKB(raw, args)
	case "help", "start":
		return Action{Type: ActionHelp}
	}
	return Action{Type: ActionHelp}
}

func interpretKB(raw string, args []string) Action {
	if len(args) == 0 {
		return Action{Type: ActionKBList}
	}
	switch strings.ToLower(args[0]) {
	case "list":
		return Action{Type: ActionKBList}
	case "reload":
		return Action{Type: ActionKBReload}
	case "add":
		if len(args) >= 3 {
			return Action{Type: ActionKBAdd, Name: args[1], Text: rest(raw, 3)}
		}
	}
	return Action{Type: ActionHelp}
}

// rest returns the raw message with the first n whitespace-separated
// tokens removed, preserving internal spacing of the remainder.
func rest(raw string, n int) string {
	s := raw
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " \t")
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimSpace(s)
}
