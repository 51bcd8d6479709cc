package testplan

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	threadGroupOpen  = regexp.MustCompile(`<ThreadGroup[\s>/]`)
	threadGroupClose = regexp.MustCompile(`</ThreadGroup\s*>`)
	ownerSpan        = regexp.MustCompile(`<(?:ThreadGroup|SetupThreadGroup|PostThreadGroup)[\s>][\s\S]*?</(?:ThreadGroup|SetupThreadGroup|PostThreadGroup)>`)
)

// uniqueRules must appear at most once per thread group.
var uniqueRules = []*PropertyRule{DelayedStartRule, DelayRule}

// ValidateStructure runs cheap textual sanity checks over a plan. It is not
// an XML parser; every finding is advisory.
func ValidateStructure(doc string) []MalformedDocumentWarning {
	var warnings []MalformedDocumentWarning
	warn := func(code WarningCode, format string, args ...any) {
		warnings = append(warnings, MalformedDocumentWarning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !strings.Contains(doc, "<?xml") {
		warn(WarnMissingDeclaration, "document has no <?xml declaration")
	}
	if !strings.Contains(doc, "<jmeterTestPlan") {
		warn(WarnMissingRoot, "document has no <jmeterTestPlan root element")
	}
	if !threadGroupOpen.MatchString(doc) {
		warn(WarnMissingThreadGroup, "document has no <ThreadGroup element")
	}
	if !threadGroupClose.MatchString(doc) {
		warn(WarnUnclosedThreadGroup, "document has no </ThreadGroup> closing tag")
	}
	if open, closed := strings.Count(doc, "<"), strings.Count(doc, ">"); open != closed {
		warn(WarnUnbalancedBrackets, "found %d '<' but %d '>'", open, closed)
	}

	spans := ownerSpan.FindAllString(doc, -1)
	if len(spans) == 0 {
		spans = []string{doc}
	}
	for i, span := range spans {
		for _, rule := range uniqueRules {
			if n := rule.Count(span); n > 1 {
				warn(WarnDuplicateProperty, "thread group %d declares %s %d times", i+1, rule.Name, n)
			}
		}
	}
	return warnings
}
