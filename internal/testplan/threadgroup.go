package testplan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Thread group properties, in the order they are applied.
var (
	NumThreadsRule      = NewPropertyRule("ThreadGroup.num_threads", DigitsValue, nil, IntProp, StringProp)
	RampTimeRule        = NewPropertyRule("ThreadGroup.ramp_time", DigitsValue, nil, IntProp, StringProp)
	LoopsRule           = NewPropertyRule("LoopController.loops", SignedValue, nil, StringProp, IntProp)
	ContinueForeverRule = NewPropertyRule("LoopController.continue_forever", BoolValue, nil, BoolProp)
	SameUserRule        = NewPropertyRule("ThreadGroup.same_user_on_next_iteration", BoolValue, nil, BoolProp)
	SchedulerRule       = NewPropertyRule("ThreadGroup.scheduler", BoolValue, nil, BoolProp)
	DurationRule        = NewPropertyRule("ThreadGroup.duration", DigitsValue, ThreadGroupOwners, LongProp, StringProp)
	OnSampleErrorRule   = NewPropertyRule("ThreadGroup.on_sample_error", TextValue, nil, StringProp)
	DelayedStartRule    = NewPropertyRule("ThreadGroup.delayedStart", BoolValue, ThreadGroupOwners, BoolProp)
	DelayRule           = NewPropertyRule("ThreadGroup.delay", DigitsValue, ThreadGroupOwners, StringProp, LongProp)
)

type threadGroupStep struct {
	rule  *PropertyRule
	value func(ThreadGroupConfig) string
	// insert reports whether the property may be created when absent.
	// A nil insert means the property is only ever rewritten.
	insert func(ThreadGroupConfig) bool
	// pair marks a rule patched together with rule by patchLoops.
	pair *PropertyRule
}

func always(ThreadGroupConfig) bool { return true }

var threadGroupSteps = []threadGroupStep{
	{rule: NumThreadsRule, value: func(c ThreadGroupConfig) string { return strconv.Itoa(c.NumberOfThreads) }},
	{rule: RampTimeRule, value: func(c ThreadGroupConfig) string { return strconv.Itoa(c.RampUpPeriod) }},
	{rule: LoopsRule, pair: ContinueForeverRule},
	{rule: SameUserRule, value: func(c ThreadGroupConfig) string { return strconv.FormatBool(c.SameUserOnEachIteration) }},
	{rule: SchedulerRule, value: func(c ThreadGroupConfig) string { return strconv.FormatBool(c.SpecifyThreadLifetime) }},
	{
		rule: DurationRule,
		value: func(c ThreadGroupConfig) string {
			if c.SpecifyThreadLifetime {
				return strconv.Itoa(c.Duration)
			}
			return "0"
		},
		insert: func(c ThreadGroupConfig) bool { return c.SpecifyThreadLifetime },
	},
	{rule: OnSampleErrorRule, value: func(c ThreadGroupConfig) string { return c.ActionAfterSamplerError.PropertyValue() }},
	{rule: DelayedStartRule, value: func(c ThreadGroupConfig) string { return strconv.FormatBool(c.DelayThreadCreation) }, insert: always},
	{rule: DelayRule, value: func(c ThreadGroupConfig) string { return strconv.Itoa(c.StartupDelay) }, insert: always},
}

// PatchThreadGroup applies cfg to every thread group in doc. Missing
// properties that may not be created are reported as not found and never
// abort the remaining steps. With allowInsert false nothing is created.
func PatchThreadGroup(doc string, cfg ThreadGroupConfig, allowInsert bool) (string, []Outcome) {
	outcomes := make([]Outcome, 0, len(threadGroupSteps)+1)
	for _, step := range threadGroupSteps {
		if step.pair != nil {
			var pair []Outcome
			doc, pair = patchLoops(doc, cfg)
			outcomes = append(outcomes, pair...)
			continue
		}
		insert := allowInsert && step.insert != nil && step.insert(cfg)
		var o Outcome
		doc, o = UpsertProperty(doc, step.rule, step.value(cfg), insert)
		outcomes = append(outcomes, o)
	}
	return doc, outcomes
}

var loopControllerScope = regexp.MustCompile(`(?s)<elementProp\s[^>]*elementType="LoopController"[^>]*>.*?</elementProp>`)

type loopTally struct {
	patched, preserved int
}

func (t loopTally) outcome(name string) Outcome {
	o := Outcome{Name: name}
	switch {
	case t.patched > 0:
		o.Status, o.Count = StatusPatched, t.patched
		if t.preserved > 0 {
			o.Detail = fmt.Sprintf("%d left with a non-literal value", t.preserved)
		}
	case t.preserved > 0:
		o.Status, o.Count = StatusPreserved, t.preserved
	default:
		o.Status = StatusNotFound
	}
	return o
}

// patchLoops rewrites LoopController.loops and LoopController.continue_forever
// one loop controller at a time. A controller where either property holds a
// non-literal value keeps both, so an infinite flag never sits next to a
// finite count. Documents without a loop controller element are treated as a
// single controller.
func patchLoops(doc string, cfg ThreadGroupConfig) (string, []Outcome) {
	loops := strconv.Itoa(cfg.LoopCount)
	if cfg.InfiniteLoop {
		loops = "-1"
	}
	rules := [2]*PropertyRule{LoopsRule, ContinueForeverRule}
	values := [2]string{loops, strconv.FormatBool(cfg.InfiniteLoop)}
	var tally [2]loopTally

	scopes := loopControllerScope.FindAllStringIndex(doc, -1)
	if len(scopes) == 0 {
		scopes = [][]int{{0, len(doc)}}
	}

	var b strings.Builder
	b.Grow(len(doc) + 64)
	last := 0
	for _, sc := range scopes {
		b.WriteString(doc[last:sc[0]])
		scope := doc[sc[0]:sc[1]]
		last = sc[1]

		literal := true
		for _, r := range rules {
			if r.literalCount(scope) < r.Count(scope) {
				literal = false
			}
		}
		for i, r := range rules {
			if !literal {
				tally[i].preserved += r.Count(scope)
				continue
			}
			tally[i].patched += r.literalCount(scope)
			scope, _ = UpsertProperty(scope, r, values[i], false)
		}
		b.WriteString(scope)
	}
	b.WriteString(doc[last:])

	return b.String(), []Outcome{tally[0].outcome(LoopsRule.Name), tally[1].outcome(ContinueForeverRule.Name)}
}
