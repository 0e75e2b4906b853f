package approval

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseDecision turns a typed approval reply into a decision. Accepted
// forms: "accept", "ignore", "respond <text>", "edit <action> <json args>".
func ParseDecision(text string) (Decision, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "accept", "yes", "y":
		return Decision{Type: DecisionAccept}, nil
	case "ignore", "no", "n":
		return Decision{Type: DecisionIgnore}, nil
	case "respond":
		if rest == "" {
			return Decision{}, fmt.Errorf("respond needs a message")
		}
		return Decision{Type: DecisionRespond, Text: rest}, nil
	case "edit":
		action, argsJSON, _ := strings.Cut(rest, " ")
		if action == "" {
			return Decision{}, fmt.Errorf("edit needs an action name")
		}
		decision := Decision{Type: DecisionEdit, Action: action}
		if argsJSON = strings.TrimSpace(argsJSON); argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &decision.Args); err != nil {
				return Decision{}, fmt.Errorf("edit args must be a JSON object: %w", err)
			}
		}
		return decision, nil
	default:
		return Decision{}, fmt.Errorf("unknown decision %q (accept, ignore, respond, edit)", verb)
	}
}
