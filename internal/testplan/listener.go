package testplan

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ListenerOutcomeName is the report key of the listener injection step.
const ListenerOutcomeName = "listeners"

// Anchors used by InjectListeners, reported in Outcome.Detail.
const (
	AnchorPlanTree   = "test plan tree"
	AnchorNestedPlan = "nested test plan scope"
	AnchorLastTree   = "last hashTree"
)

var (
	summaryReportPattern = regexp.MustCompile(`<SummaryReport[\s/>]|guiclass="SummaryReport"`)
	hashTreeTokens       = regexp.MustCompile(`<hashTree\s*/>|<hashTree\s*>|</hashTree\s*>`)
	planTreeStart        = regexp.MustCompile(`</TestPlan>\s*(<hashTree\s*/>|<hashTree\s*>)`)
	nestedPlanScope      = regexp.MustCompile(`<TestPlan(?:\s[^>]*)?>[\s\S]*?<hashTree>[\s\S]*?(</hashTree>\s*</TestPlan>)`)
)

var summaryReportLines = []string{
	`<SummaryReport guiclass="SummaryReportGui" testclass="SummaryReport" testname="Summary Report" enabled="true">`,
	`  <boolProp name="SummaryReport.errors">true</boolProp>`,
	`  <boolProp name="SummaryReport.label">true</boolProp>`,
	`  <boolProp name="SummaryReport.samplers">true</boolProp>`,
	`  <boolProp name="SummaryReport.success">true</boolProp>`,
	`  <boolProp name="SummaryReport.filename">false</boolProp>`,
	`  <stringProp name="filename"></stringProp>`,
	`</SummaryReport>`,
	`<hashTree/>`,
}

var sampleSaveFields = []struct {
	name  string
	value string
}{
	{"time", "true"},
	{"latency", "true"},
	{"timestamp", "true"},
	{"success", "true"},
	{"label", "true"},
	{"code", "true"},
	{"message", "true"},
	{"threadName", "true"},
	{"dataType", "true"},
	{"encoding", "false"},
	{"assertions", "true"},
	{"subresults", "true"},
	{"responseData", "false"},
	{"samplerData", "false"},
	{"xml", "false"},
	{"fieldNames", "true"},
	{"responseHeaders", "false"},
	{"requestHeaders", "false"},
	{"responseDataOnError", "false"},
	{"saveAssertionResultsFailureMessage", "true"},
	{"assertionsResultsToSave", "0"},
	{"bytes", "true"},
	{"sentBytes", "true"},
	{"url", "true"},
	{"threadCounts", "true"},
	{"idleTime", "true"},
	{"connectTime", "true"},
}

// ResultFileName is the file the raw sample sink writes to.
func ResultFileName(at time.Time) string {
	return fmt.Sprintf("result_%d.jtl", at.UnixMilli())
}

func sampleSinkLines(at time.Time) []string {
	lines := []string{
		`<ResultCollector guiclass="SimpleDataWriter" testclass="ResultCollector" testname="Simple Data Writer" enabled="true">`,
		`  <boolProp name="ResultCollector.error_logging">false</boolProp>`,
		`  <objProp>`,
		`    <name>saveConfig</name>`,
		`    <value class="SampleSaveConfiguration">`,
	}
	for _, f := range sampleSaveFields {
		lines = append(lines, fmt.Sprintf("      <%[1]s>%[2]s</%[1]s>", f.name, f.value))
	}
	return append(lines,
		`    </value>`,
		`  </objProp>`,
		`  <stringProp name="filename">`+ResultFileName(at)+`</stringProp>`,
		`</ResultCollector>`,
		`<hashTree/>`,
	)
}

// HasSummaryReport reports whether doc already declares a summary listener.
func HasSummaryReport(doc string) bool {
	return summaryReportPattern.MatchString(doc)
}

// InjectListeners adds a Summary Report and a Simple Data Writer as children
// of the test plan. A plan that already has a summary listener is returned
// unchanged, which makes the step idempotent.
func InjectListeners(doc string, now time.Time) (string, Outcome) {
	out := Outcome{Name: ListenerOutcomeName}
	if HasSummaryReport(doc) {
		out.Status = StatusAlreadyPresent
		return doc, out
	}

	lines := append(append([]string{}, summaryReportLines...), sampleSinkLines(now)...)

	if patched, ok := injectIntoPlanTree(doc, lines); ok {
		out.Status, out.Count, out.Detail = StatusInserted, 1, AnchorPlanTree
		return patched, out
	}
	if loc := nestedPlanScope.FindStringSubmatchIndex(doc); loc != nil {
		out.Status, out.Count, out.Detail = StatusInserted, 1, AnchorNestedPlan
		return insertBlock(doc, loc[2], lines), out
	}
	if pos := strings.LastIndex(doc, "</hashTree>"); pos >= 0 {
		out.Status, out.Count, out.Detail = StatusInserted, 1, AnchorLastTree
		return insertBlock(doc, pos, lines), out
	}

	out.Status = StatusNoInsertionPoint
	return doc, out
}

// injectIntoPlanTree handles the layout JMeter itself saves: the children of
// the test plan live in the hashTree that directly follows </TestPlan>.
func injectIntoPlanTree(doc string, lines []string) (string, bool) {
	loc := planTreeStart.FindStringSubmatchIndex(doc)
	if loc == nil {
		return "", false
	}
	open := doc[loc[2]:loc[3]]

	if strings.HasSuffix(open, "/>") {
		// An empty plan tree is saved as <hashTree/>; expand it.
		indent, own := lineIndent(doc, loc[2])
		if !own {
			indent = ""
		}
		eol := lineEnding(doc, loc[2])
		var b strings.Builder
		b.WriteString(doc[:loc[2]])
		b.WriteString("<hashTree>" + eol)
		for _, l := range lines {
			b.WriteString(indent + indentUnit + l + eol)
		}
		b.WriteString(indent + "</hashTree>")
		b.WriteString(doc[loc[3]:])
		return b.String(), true
	}

	depth := 1
	for _, tok := range hashTreeTokens.FindAllStringIndex(doc[loc[3]:], -1) {
		t := doc[loc[3]+tok[0] : loc[3]+tok[1]]
		switch {
		case strings.HasSuffix(t, "/>"):
		case strings.HasPrefix(t, "</"):
			depth--
		default:
			depth++
		}
		if depth == 0 {
			return insertBlock(doc, loc[3]+tok[0], lines), true
		}
	}
	return "", false
}
