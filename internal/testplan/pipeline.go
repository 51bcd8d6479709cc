package testplan

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which steps a Pipeline runs.
type Mode string

const (
	// ModeFull rewrites, creates missing optional properties and injects the
	// result listeners. Re-running it on its own output changes nothing.
	ModeFull Mode = "full"
	// ModeRewrite only rewrites properties that already exist. Nothing is
	// created and no listener is injected.
	ModeRewrite Mode = "rewrite"
)

// ParseMode accepts "full" and "rewrite" in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFull, ModeRewrite:
		return m, nil
	default:
		return "", fmt.Errorf("unknown transform mode %q (want %q or %q)", s, ModeFull, ModeRewrite)
	}
}

// Result is a transformed plan and the trail of how it got there.
type Result struct {
	Document string
	Report   Report
}

// Pipeline composes the patchers in a fixed order: thread groups, server
// target, listeners, structural validation. A Pipeline holds no state between
// calls and may be shared by goroutines.
type Pipeline struct {
	mode Mode
	now  func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithMode(m Mode) Option {
	return func(p *Pipeline) {
		p.mode = m
	}
}

// WithClock replaces the clock used to name the raw sample file.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		mode: ModeFull,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Mode() Mode {
	return p.mode
}

// Transform applies both configurations to doc. It always returns a document;
// problems are described in the report.
func (p *Pipeline) Transform(doc string, tg ThreadGroupConfig, srv ServerConfig) Result {
	var report Report
	full := p.mode != ModeRewrite

	doc, outcomes := PatchThreadGroup(doc, tg, full)
	report.add(outcomes...)

	doc, outcomes = PatchServer(doc, srv)
	report.add(outcomes...)

	if full {
		var o Outcome
		doc, o = InjectListeners(doc, p.now())
		report.add(o)
	} else {
		report.add(Outcome{Name: ListenerOutcomeName, Status: StatusSkipped})
	}

	report.Warnings = ValidateStructure(doc)
	return Result{Document: doc, Report: report}
}

// TransformJSON decodes persisted configurations and transforms doc. A decode
// failure is returned before any step runs.
func (p *Pipeline) TransformJSON(doc, threadGroupJSON, serverJSON string) (Result, error) {
	tg, err := DecodeThreadGroupConfig(threadGroupJSON)
	if err != nil {
		return Result{}, err
	}
	srv, err := DecodeServerConfig(serverJSON)
	if err != nil {
		return Result{}, err
	}
	return p.Transform(doc, tg.Config, srv.Config), nil
}

// Transform runs a full pipeline with the wall clock.
func Transform(doc string, tg ThreadGroupConfig, srv ServerConfig) Result {
	return NewPipeline().Transform(doc, tg, srv)
}
