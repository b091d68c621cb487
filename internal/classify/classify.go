// Package classify maps game client log lines to lifecycle events by
// substring matching against an ordered keyword table.
package classify

import "strings"

// Kind is the lifecycle event a log line represents.
type Kind int

const (
	None Kind = iota
	Disconnect
	Closed
)

func (k Kind) String() string {
	switch k {
	case Disconnect:
		return "disconnect"
	case Closed:
		return "closed"
	default:
		return "none"
	}
}

// Rule associates a substring pattern with an event kind.
type Rule struct {
	Pattern string
	Kind    Kind
}

// Classifier holds an ordered rule table. The first matching rule wins,
// so more specific patterns should come first.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from disconnect and closed keyword lists.
// Disconnect rules are checked before closed rules.
func New(disconnectKeywords, closedKeywords []string) *Classifier {
	rules := make([]Rule, 0, len(disconnectKeywords)+len(closedKeywords))
	for _, kw := range disconnectKeywords {
		rules = append(rules, Rule{Pattern: kw, Kind: Disconnect})
	}
	for _, kw := range closedKeywords {
		rules = append(rules, Rule{Pattern: kw, Kind: Closed})
	}
	return &Classifier{rules: rules}
}

// NewFromRules builds a classifier from an explicit ordered rule table.
func NewFromRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the kind of the first rule whose pattern is a
// substring of line, or None.
func (c *Classifier) Classify(line string) Kind {
	for _, r := range c.rules {
		if strings.Contains(line, r.Pattern) {
			return r.Kind
		}
	}
	return None
}
