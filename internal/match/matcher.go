// Package match selects the recording template that claims an incoming
// recording. Templates are evaluated in creation order and the first hit
// wins, so matching is deterministic for a fixed template set.
package match

import (
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/jmylchreest/recarr/internal/models"
)

// Reason records which rule family produced a match.
type Reason string

const (
	ReasonExact   Reason = "exact"
	ReasonKeyword Reason = "keyword"
	ReasonPattern Reason = "pattern"
)

// Result is a successful match.
type Result struct {
	Template *models.RecordingTemplate
	Reason   Reason
}

// Candidate is one recording presented to the matcher.
type Candidate struct {
	// DisplayName is the name every rule family tests against.
	DisplayName string

	// SourceID is the input source the recording arrived from. Templates
	// with a source filter only see candidates from their sources.
	SourceID string
}

// Matcher evaluates matching rules. Compiled regexes are cached across
// calls since automation runs evaluate the same template set against many
// candidates.
type Matcher struct {
	logger *slog.Logger
	folder cases.Caser

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
	broken  map[string]bool
}

// NewMatcher creates a Matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{
		logger:  logger,
		folder:  cases.Fold(),
		regexes: make(map[string]*regexp.Regexp),
		broken:  make(map[string]bool),
	}
}

// Match returns the first template whose rules accept the candidate, or
// nil when none do. Templates are tried oldest-first; drafts and inactive
// templates are skipped.
func (m *Matcher) Match(candidate Candidate, templates []*models.RecordingTemplate) *Result {
	ordered := make([]*models.RecordingTemplate, 0, len(templates))
	for _, t := range templates {
		if t.IsMatchable() {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, t := range ordered {
		if reason, ok := m.evaluate(candidate, t); ok {
			return &Result{Template: t, Reason: reason}
		}
	}
	return nil
}

// evaluate runs one template's rules against the candidate. Exclusions run
// before any include test so an exclude always vetoes.
func (m *Matcher) evaluate(c Candidate, t *models.RecordingTemplate) (Reason, bool) {
	rules := t.MatchingRules
	if rules == nil {
		return "", false
	}
	if !rules.AllowsSource(c.SourceID) {
		return "", false
	}

	name := c.DisplayName
	if !rules.CaseSensitive {
		name = m.folder.String(name)
	}

	for _, kw := range rules.ExcludeKeywords {
		if m.containsKeyword(name, kw, rules.CaseSensitive) {
			return "", false
		}
	}
	for _, pat := range rules.ExcludePatterns {
		if m.matchPattern(c.DisplayName, pat, rules.CaseSensitive, t) {
			return "", false
		}
	}

	for _, exact := range rules.ExactMatches {
		want := strings.TrimSpace(exact)
		if !rules.CaseSensitive {
			want = m.folder.String(want)
		}
		if name == want {
			return ReasonExact, true
		}
	}
	for _, kw := range rules.IncludeKeywords {
		if m.containsKeyword(name, kw, rules.CaseSensitive) {
			return ReasonKeyword, true
		}
	}
	for _, pat := range rules.IncludePatterns {
		if m.matchPattern(c.DisplayName, pat, rules.CaseSensitive, t) {
			return ReasonPattern, true
		}
	}
	return "", false
}

// containsKeyword tests kw as a substring of name. The caller already
// folded name when matching case-insensitively.
func (m *Matcher) containsKeyword(name, kw string, caseSensitive bool) bool {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return false
	}
	if !caseSensitive {
		kw = m.folder.String(kw)
	}
	return strings.Contains(name, kw)
}

// matchPattern compiles pat lazily and tests it against the raw display
// name. A pattern that fails to compile is logged once and never retried.
func (m *Matcher) matchPattern(name, pat string, caseSensitive bool, t *models.RecordingTemplate) bool {
	if !caseSensitive {
		pat = "(?i)" + pat
	}
	re := m.compile(pat, t)
	if re == nil {
		return false
	}
	return re.MatchString(name)
}

func (m *Matcher) compile(pat string, t *models.RecordingTemplate) *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.regexes[pat]; ok {
		return re
	}
	if m.broken[pat] {
		return nil
	}

	re, err := regexp.Compile(pat)
	if err != nil {
		m.broken[pat] = true
		m.logger.Warn("skipping malformed template pattern",
			"template_id", t.ID,
			"pattern", pat,
			"error", err)
		return nil
	}
	m.regexes[pat] = re
	return re
}
