// Package dataset inspects the CSV files that feed user credentials to a
// test plan.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

// ErrFileTooLarge is returned when the file exceeds the configured limit.
var ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

// DefaultHeaderKeywords mark a first line as a column header.
var DefaultHeaderKeywords = []string{"username", "user", "email", "id", "name", "login", "password"}

const (
	defaultMaxSize = 50 << 20 // 50MB
	maxLineLength  = 1 << 20
)

// Estimator counts how many virtual users a CSV file can drive: one per
// non-blank line, minus a header line when one is recognised.
type Estimator struct {
	keywords []string
	maxSize  int64
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithHeaderKeywords replaces the words that identify a header line.
func WithHeaderKeywords(words ...string) Option {
	return func(e *Estimator) {
		e.keywords = words
	}
}

// WithMaxSize limits how many bytes are read before giving up.
func WithMaxSize(n int64) Option {
	return func(e *Estimator) {
		e.maxSize = n
	}
}

func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		keywords: DefaultHeaderKeywords,
		maxSize:  defaultMaxSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CountLines applies the estimate to lines that are already split.
func (e *Estimator) CountLines(lines []string) int {
	count := 0
	first := ""
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if count == 0 {
			first = l
		}
		count++
	}
	if count > 1 && e.isHeader(first) {
		count--
	}
	return count
}

// Estimate reads a whole CSV file. A UTF-8 or UTF-16 byte order mark is
// honoured and stripped before counting. Bytes that are not valid UTF-8, as in
// Latin-1 exports, decode to U+FFFD and still count as content.
func (e *Estimator) Estimate(r io.Reader) (int, error) {
	limited := &io.LimitedReader{R: r, N: e.maxSize + 1}
	decoded := transform.NewReader(limited, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read csv: %w", err)
	}
	if limited.N <= 0 {
		return 0, ErrFileTooLarge
	}
	return e.CountLines(lines), nil
}

func (e *Estimator) isHeader(line string) bool {
	// A Caser keeps state, so each call gets its own.
	lowered := cases.Lower(language.Und).String(line)
	for _, k := range e.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

var defaultEstimator = NewEstimator()

// EstimateUsers is Estimate with the default keywords and size limit.
func EstimateUsers(r io.Reader) (int, error) {
	return defaultEstimator.Estimate(r)
}

// CountUserLines is CountLines with the default keywords.
func CountUserLines(lines []string) int {
	return defaultEstimator.CountLines(lines)
}
