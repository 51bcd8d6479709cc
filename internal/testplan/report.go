package testplan

import (
	"fmt"
	"strings"
)

// Status is the outcome of one targeted edit.
type Status string

const (
	StatusPatched          Status = "patched"
	StatusInserted         Status = "inserted"
	StatusNotFound         Status = "not found"
	StatusPreserved        Status = "preserved"
	StatusAlreadyPresent   Status = "already present"
	StatusNoInsertionPoint Status = "no insertion point found"
	StatusSkipped          Status = "skipped"
)

// Outcome records what happened to a single property or element.
// StatusPreserved means the property exists but holds a value the rule does
// not rewrite, such as a ${__P(threads)} function call.
type Outcome struct {
	Name   string
	Status Status
	Count  int
	Detail string
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s: %s", o.Name, o.Status)
	if o.Count > 1 {
		s += fmt.Sprintf(" (x%d)", o.Count)
	}
	if o.Detail != "" {
		s += " [" + o.Detail + "]"
	}
	return s
}

// WarningCode identifies a structural finding.
type WarningCode string

const (
	WarnMissingDeclaration  WarningCode = "missing_xml_declaration"
	WarnMissingRoot         WarningCode = "missing_root_element"
	WarnMissingThreadGroup  WarningCode = "missing_thread_group"
	WarnUnclosedThreadGroup WarningCode = "missing_thread_group_close"
	WarnUnbalancedBrackets  WarningCode = "unbalanced_angle_brackets"
	WarnDuplicateProperty   WarningCode = "duplicate_property"
)

// MalformedDocumentWarning is an advisory finding of the structural
// validator. It never stops a transformation.
type MalformedDocumentWarning struct {
	Code    WarningCode
	Message string
}

func (w MalformedDocumentWarning) Error() string {
	return string(w.Code) + ": " + w.Message
}

// Report is the diagnostic trail of one transformation, in step order.
type Report struct {
	Outcomes []Outcome
	Warnings []MalformedDocumentWarning
}

func (r *Report) add(o ...Outcome) {
	r.Outcomes = append(r.Outcomes, o...)
}

// Outcome returns the first outcome recorded under name.
func (r Report) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// WithStatus returns the outcomes that ended in one of the given statuses.
func (r Report) WithStatus(statuses ...Status) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// Clean reports whether every edit landed and no warning was raised.
func (r Report) Clean() bool {
	return len(r.Warnings) == 0 &&
		len(r.WithStatus(StatusNotFound, StatusNoInsertionPoint, StatusPreserved)) == 0
}

func (r Report) String() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		b.WriteString(o.String())
		b.WriteByte('\n')
	}
	for _, w := range r.Warnings {
		b.WriteString("warning: ")
		b.WriteString(w.Error())
		b.WriteByte('\n')
	}
	return b.String()
}
