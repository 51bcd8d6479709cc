package testplan

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the element name JMeter uses for a typed property.
type Kind string

const (
	IntProp    Kind = "intProp"
	LongProp   Kind = "longProp"
	StringProp Kind = "stringProp"
	BoolProp   Kind = "boolProp"
)

// Value patterns a property must currently hold to be rewritten. Empty values
// are accepted because JMeter saves unset numeric fields as empty strings.
const (
	DigitsValue = `\d*`
	SignedValue = `-?\d*`
	BoolValue   = `(?:true|false)?`
	TextValue   = `[^<]*`
)

// ThreadGroupOwners are the elements that carry thread group properties.
var ThreadGroupOwners = []string{"ThreadGroup", "SetupThreadGroup", "PostThreadGroup"}

// PropertyRule describes one property the engine knows how to edit. Kinds
// lists every element kind the property has been seen saved as; the first
// one is used when the property has to be created.
type PropertyRule struct {
	Name   string
	Kinds  []Kind
	Value  string
	Owners []string

	match   *regexp.Regexp
	present *regexp.Regexp
	closers *regexp.Regexp
}

// NewPropertyRule compiles a rule. owners may be nil for properties that are
// never created.
func NewPropertyRule(name, value string, owners []string, kinds ...Kind) *PropertyRule {
	if len(kinds) == 0 {
		panic(fmt.Sprintf("testplan: rule %q has no element kinds", name))
	}
	quoted := regexp.QuoteMeta(name)

	alts := make([]string, 0, len(kinds))
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		alts = append(alts, fmt.Sprintf(`<%[1]s\s+name="%[2]s"\s*(?:>%[3]s</%[1]s>|/>)`, k, quoted, value))
		names = append(names, string(k))
	}

	r := &PropertyRule{
		Name:    name,
		Kinds:   kinds,
		Value:   value,
		Owners:  owners,
		match:   regexp.MustCompile(strings.Join(alts, "|")),
		present: regexp.MustCompile(fmt.Sprintf(`<(?:%s)\s+name="%s"\s*/?>`, strings.Join(names, "|"), quoted)),
	}
	if len(owners) > 0 {
		quotedOwners := make([]string, len(owners))
		for i, o := range owners {
			quotedOwners[i] = regexp.QuoteMeta(o)
		}
		r.closers = regexp.MustCompile(fmt.Sprintf(`</(?:%s)>`, strings.Join(quotedOwners, "|")))
	}
	return r
}

func (r *PropertyRule) render(k Kind, value string) string {
	return fmt.Sprintf(`<%s name="%s">%s</%s>`, k, r.Name, escapeText(value), k)
}

// Count returns how many elements declare the property, whatever their value.
func (r *PropertyRule) Count(doc string) int {
	return len(r.present.FindAllStringIndex(doc, -1))
}

// literalCount returns how many declarations hold a value the rule rewrites.
func (r *PropertyRule) literalCount(doc string) int {
	return len(r.match.FindAllStringIndex(doc, -1))
}

// UpsertProperty rewrites every occurrence of rule's property whose value
// matches the rule pattern to value. Every match is rewritten; there is no
// way to target a single owner. When the property is declared nowhere and
// insert is true, a new element is added at the end of every owner element.
// The input is never modified; the outcome describes what was done.
func UpsertProperty(doc string, rule *PropertyRule, value string, insert bool) (string, Outcome) {
	out := Outcome{Name: rule.Name}

	matched := 0
	patched := rule.match.ReplaceAllStringFunc(doc, func(m string) string {
		matched++
		return rule.render(kindOf(m), value)
	})
	present := rule.Count(doc)

	switch {
	case matched > 0:
		out.Status, out.Count = StatusPatched, matched
		if left := present - matched; left > 0 {
			out.Detail = fmt.Sprintf("%d left with a non-literal value", left)
		}
		return patched, out
	case present > 0:
		out.Status, out.Count = StatusPreserved, present
		return doc, out
	case !insert || rule.closers == nil:
		out.Status = StatusNotFound
		return doc, out
	}

	closers := rule.closers.FindAllStringIndex(doc, -1)
	if len(closers) == 0 {
		out.Status = StatusNoInsertionPoint
		return doc, out
	}
	node := rule.render(rule.Kinds[0], value)
	for i := len(closers) - 1; i >= 0; i-- {
		doc = insertBlock(doc, closers[i][0], []string{node})
	}
	out.Status, out.Count = StatusInserted, len(closers)
	return doc, out
}

// kindOf extracts the element kind from a matched "<kind name=..." string.
func kindOf(m string) Kind {
	end := strings.IndexAny(m, " \t\r\n")
	return Kind(m[1:end])
}
