package testplan

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return fixedNow }

func scenarioConfig() (ThreadGroupConfig, ServerConfig) {
	tg := DefaultThreadGroupConfig()
	tg.NumberOfThreads = 50
	tg.RampUpPeriod = 10
	tg.LoopCount = 1
	tg.InfiniteLoop = false
	tg.DelayThreadCreation = true
	tg.StartupDelay = 5
	return tg, ServerConfig{Protocol: ProtocolHTTPS, Server: "qa.example.com"}
}

func TestPipeline_EndToEnd(t *testing.T) {
	tg, srv := scenarioConfig()
	p := NewPipeline(WithClock(fixedClock))

	res := p.Transform(loadFixture(t, "basic.jmx"), tg, srv)

	doc := res.Document
	assert.Contains(t, doc, `<intProp name="ThreadGroup.num_threads">50</intProp>`)
	assert.Contains(t, doc, `<intProp name="ThreadGroup.ramp_time">10</intProp>`)
	assert.Contains(t, doc, `<stringProp name="LoopController.loops">1</stringProp>`)
	assert.Contains(t, doc, `<boolProp name="LoopController.continue_forever">false</boolProp>`)
	assert.Equal(t, 1, strings.Count(doc, `<boolProp name="ThreadGroup.delayedStart">true</boolProp>`))
	assert.Equal(t, 1, strings.Count(doc, `<stringProp name="ThreadGroup.delay">5</stringProp>`))
	assert.Equal(t, 2, strings.Count(doc, `<stringProp name="HTTPSampler.domain">qa.example.com</stringProp>`))
	assert.Equal(t, 1, strings.Count(doc, "<SummaryReport "))

	report := res.Report
	assert.Empty(t, report.Warnings)
	listeners, ok := report.Outcome(ListenerOutcomeName)
	require.True(t, ok)
	assert.Equal(t, StatusInserted, listeners.Status)
	assert.Equal(t, ListenerOutcomeName, report.Outcomes[len(report.Outcomes)-1].Name)

	notFound := report.WithStatus(StatusNotFound)
	names := make([]string, 0, len(notFound))
	for _, o := range notFound {
		names = append(names, o.Name)
	}
	assert.ElementsMatch(t, []string{
		"ThreadGroup.duration",
		"HTTPSampler.serverName",
		"HTTPSampler.portNumber",
		"HTTPSampler.protocolType",
	}, names)
	assert.False(t, report.Clean())
}

func TestPipeline_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*ThreadGroupConfig)
		want      []string
		wantOnce  []string
	}{
		{
			name: "infinite loop with delayed start",
			configure: func(c *ThreadGroupConfig) {
				c.NumberOfThreads = 20
				c.RampUpPeriod = 10
				c.InfiniteLoop = true
				c.DelayThreadCreation = true
				c.StartupDelay = 5
			},
			want: []string{
				`<intProp name="ThreadGroup.num_threads">20</intProp>`,
				`<intProp name="ThreadGroup.ramp_time">10</intProp>`,
				`<stringProp name="LoopController.loops">-1</stringProp>`,
				`<boolProp name="LoopController.continue_forever">true</boolProp>`,
			},
			wantOnce: []string{
				`<boolProp name="ThreadGroup.delayedStart">true</boolProp>`,
				`<stringProp name="ThreadGroup.delay">5</stringProp>`,
			},
		},
		{
			name: "finite loop without delay",
			configure: func(c *ThreadGroupConfig) {
				c.NumberOfThreads = 50
				c.LoopCount = 4
			},
			want: []string{
				`<intProp name="ThreadGroup.num_threads">50</intProp>`,
				`<stringProp name="LoopController.loops">4</stringProp>`,
				`<boolProp name="LoopController.continue_forever">false</boolProp>`,
			},
			wantOnce: []string{
				`<boolProp name="ThreadGroup.delayedStart">false</boolProp>`,
				`<stringProp name="ThreadGroup.delay">0</stringProp>`,
			},
		},
	}

	srv := ServerConfig{Protocol: ProtocolHTTP, Server: "localhost"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := DefaultThreadGroupConfig()
			tt.configure(&tg)

			res := NewPipeline(WithClock(fixedClock)).Transform(loadFixture(t, "basic.jmx"), tg, srv)

			for _, w := range tt.want {
				assert.Contains(t, res.Document, w)
			}
			for _, w := range tt.wantOnce {
				assert.Equal(t, 1, strings.Count(res.Document, w), w)
			}
			delayed, _ := res.Report.Outcome("ThreadGroup.delayedStart")
			assert.Equal(t, StatusInserted, delayed.Status)
			assert.Empty(t, res.Report.Warnings)
		})
	}
}

func TestPipeline_FullModePreservesUntouchedLines(t *testing.T) {
	doc := loadFixture(t, "basic.jmx")
	tg, srv := scenarioConfig()

	res := NewPipeline(WithClock(fixedClock)).Transform(doc, tg, srv)

	after := strings.Split(res.Document, "\n")
	start := -1
	for i, l := range after {
		if strings.Contains(l, "<SummaryReport ") {
			start = i
			break
		}
	}
	require.GreaterOrEqual(t, start, 0)
	block := len(summaryReportLines) + len(sampleSinkLines(fixedNow))
	require.LessOrEqual(t, start+block, len(after))
	assert.Contains(t, after[start+block-1], "<hashTree/>")
	after = append(after[:start:start], after[start+block:]...)

	kept := after[:0:0]
	for _, l := range after {
		if strings.Contains(l, `name="ThreadGroup.delayedStart"`) || strings.Contains(l, `name="ThreadGroup.delay"`) {
			continue
		}
		kept = append(kept, l)
	}

	before := strings.Split(doc, "\n")
	require.Len(t, kept, len(before))
	for i := range before {
		if strings.Contains(before[i], `name="ThreadGroup.`) ||
			strings.Contains(before[i], `name="LoopController.`) ||
			strings.Contains(before[i], `name="HTTPSampler.`) {
			continue
		}
		assert.Equal(t, before[i], kept[i], "line %d", i+1)
	}
}

func TestPipeline_KeepsCRLFLineEndings(t *testing.T) {
	doc := strings.ReplaceAll(loadFixture(t, "basic.jmx"), "\n", "\r\n")
	tg, srv := scenarioConfig()

	res := NewPipeline(WithClock(fixedClock)).Transform(doc, tg, srv)

	require.Contains(t, res.Document, "<SummaryReport ")
	require.Contains(t, res.Document, "ThreadGroup.delayedStart")
	assert.Equal(t, strings.Count(res.Document, "\n"), strings.Count(res.Document, "\r\n"))
	assert.NotContains(t, res.Document, "\r\r")
}

func TestPipeline_FullModeIsIdempotent(t *testing.T) {
	tg, srv := scenarioConfig()
	tg.SpecifyThreadLifetime = true
	p := NewPipeline(WithClock(fixedClock))

	for _, fixture := range []string{"basic.jmx", "two_groups.jmx"} {
		t.Run(fixture, func(t *testing.T) {
			once := p.Transform(loadFixture(t, fixture), tg, srv)
			twice := p.Transform(once.Document, tg, srv)

			assert.Equal(t, once.Document, twice.Document)
			assert.Empty(t, twice.Report.WithStatus(StatusInserted))
		})
	}
}

func TestPipeline_RewriteModePreservesUntouchedLines(t *testing.T) {
	doc := loadFixture(t, "basic.jmx")
	tg, srv := scenarioConfig()
	p := NewPipeline(WithMode(ModeRewrite), WithClock(fixedClock))

	res := p.Transform(doc, tg, srv)

	before := strings.Split(doc, "\n")
	after := strings.Split(res.Document, "\n")
	require.Len(t, after, len(before))
	for i := range before {
		if strings.Contains(before[i], `name="ThreadGroup.`) ||
			strings.Contains(before[i], `name="LoopController.`) ||
			strings.Contains(before[i], `name="HTTPSampler.`) {
			continue
		}
		assert.Equal(t, before[i], after[i], "line %d", i+1)
	}

	assert.NotContains(t, res.Document, "SummaryReport")
	assert.NotContains(t, res.Document, "ThreadGroup.delayedStart")
	listeners, _ := res.Report.Outcome(ListenerOutcomeName)
	assert.Equal(t, StatusSkipped, listeners.Status)
	assert.Equal(t, ModeRewrite, p.Mode())
}

func TestPipeline_RewriteModeAfterFullCreation(t *testing.T) {
	tg, srv := scenarioConfig()
	created := NewPipeline(WithClock(fixedClock)).Transform(loadFixture(t, "basic.jmx"), tg, srv)

	tg.NumberOfThreads = 75
	tg.StartupDelay = 9
	tg.SpecifyThreadLifetime = true
	res := NewPipeline(WithMode(ModeRewrite)).Transform(created.Document, tg, srv)

	assert.Contains(t, res.Document, `<intProp name="ThreadGroup.num_threads">75</intProp>`)
	assert.Contains(t, res.Document, `<stringProp name="ThreadGroup.delay">9</stringProp>`)
	assert.NotContains(t, res.Document, "ThreadGroup.duration")
	assert.Equal(t, 1, strings.Count(res.Document, "<SummaryReport "))
}

func TestPipeline_TransformJSON(t *testing.T) {
	p := NewPipeline(WithClock(fixedClock))
	doc := loadFixture(t, "basic.jmx")

	t.Run("decodes persisted configs", func(t *testing.T) {
		res, err := p.TransformJSON(doc, `{"numberOfThreads":"8","infiniteLoop":true}`, `{"server":"10.1.1.1","port":8082}`)
		require.NoError(t, err)

		assert.Contains(t, res.Document, `<intProp name="ThreadGroup.num_threads">8</intProp>`)
		assert.Contains(t, res.Document, `<stringProp name="LoopController.loops">-1</stringProp>`)
		assert.Contains(t, res.Document, `<stringProp name="HTTPSampler.port">8082</stringProp>`)
	})

	t.Run("fails before transforming", func(t *testing.T) {
		res, err := p.TransformJSON(doc, `{"numberOfThreads":`, `{}`)

		var decodeErr *ConfigDecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Empty(t, res.Document)
		assert.Empty(t, res.Report.Outcomes)
	})
}

func TestPipeline_ConcurrentUse(t *testing.T) {
	tg, srv := scenarioConfig()
	p := NewPipeline(WithClock(fixedClock))
	doc := loadFixture(t, "basic.jmx")
	want := p.Transform(doc, tg, srv).Document

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Transform(doc, tg, srv).Document
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Full ")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)

	m, err = ParseMode("rewrite")
	require.NoError(t, err)
	assert.Equal(t, ModeRewrite, m)

	_, err = ParseMode("partial")
	assert.Error(t, err)
}

func TestReport_String(t *testing.T) {
	r := Report{
		Outcomes: []Outcome{
			{Name: "ThreadGroup.num_threads", Status: StatusPatched, Count: 2},
			{Name: ListenerOutcomeName, Status: StatusInserted, Count: 1, Detail: AnchorPlanTree},
		},
		Warnings: []MalformedDocumentWarning{{Code: WarnMissingDeclaration, Message: "no declaration"}},
	}

	assert.Equal(t,
		"ThreadGroup.num_threads: patched (x2)\nlisteners: inserted [test plan tree]\nwarning: missing_xml_declaration: no declaration\n",
		r.String())
}
