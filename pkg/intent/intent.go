// Package intent turns a natural-language request into the set of
// capabilities and domains a plan will need.
package intent

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/conversation"
	"github.com/sidekicklabs/sidekick/pkg/errors"
)

// relevanceThreshold is the minimum score for a capability to be considered
// part of the request's intent.
const relevanceThreshold = 0.25

// DeviceContext is a snapshot of device state at the start of a turn.
type DeviceContext struct {
	BatteryLevel int    `json:"battery_level"`
	Charging     bool   `json:"charging"`
	Network      string `json:"network,omitempty"`
}

// Analysis is the outcome of intent analysis for one request.
type Analysis struct {
	Request              string              `json:"request"`
	Domains              []capability.Domain `json:"domains"`
	RequiredCapabilities []string            `json:"required_capabilities"`
	Confidence           float64             `json:"confidence"`
	Device               DeviceContext       `json:"device"`
}

// Direct reports whether no capability matched and the request should get a
// direct response with no plan steps.
func (a *Analysis) Direct() bool { return len(a.RequiredCapabilities) == 0 }

// Analyzer scores registered capabilities against the request text.
type Analyzer struct {
	registry *capability.Registry
}

func NewAnalyzer(registry *capability.Registry) *Analyzer {
	return &Analyzer{registry: registry}
}

// Analyze identifies the capabilities and domains a request needs. History
// supplies pronoun-poor follow-ups with context: when the request alone
// matches nothing, the previous user message is scored too.
func (a *Analyzer) Analyze(request string, deviceCtx DeviceContext, history conversation.History) (*Analysis, error) {
	trimmed := strings.TrimSpace(request)
	if trimmed == "" {
		return nil, errors.New(errors.CodeInputEmpty, "request is empty")
	}
	if !strings.ContainsFunc(trimmed, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) {
		return nil, errors.New(errors.CodeInputUnparseable, "request contains no words")
	}

	scored := a.registry.Score(trimmed)
	matched := above(scored, relevanceThreshold)

	if len(matched) == 0 && history != nil {
		if prev := lastUserMessage(history); prev != "" {
			matched = above(a.registry.Score(prev+" "+trimmed), relevanceThreshold)
		}
	}

	analysis := &Analysis{Request: trimmed, Device: deviceCtx}
	seen := make(map[capability.Domain]bool)
	var top float64
	for _, s := range matched {
		analysis.RequiredCapabilities = append(analysis.RequiredCapabilities, s.Capability.Name())
		if !seen[s.Capability.Domain()] {
			seen[s.Capability.Domain()] = true
			analysis.Domains = append(analysis.Domains, s.Capability.Domain())
		}
		if s.Score > top {
			top = s.Score
		}
	}
	sort.Slice(analysis.Domains, func(i, j int) bool { return analysis.Domains[i] < analysis.Domains[j] })
	analysis.Confidence = top
	return analysis, nil
}

func above(scored []capability.Scored, threshold float64) []capability.Scored {
	var out []capability.Scored
	for _, s := range scored {
		if s.Score >= threshold {
			out = append(out, s)
		}
	}
	return out
}

func lastUserMessage(history conversation.History) string {
	msgs := history.Recent(10)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
