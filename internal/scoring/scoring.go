// Package scoring computes a deterministic relevance score for a normalized
// opportunity against a configured relevance model.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/ceradon/sam-digest/internal/notice"
)

// Rule names used in the matched-rule trail for the non-keyword contributions.
const (
	RuleNoticeType      = "notice_type"
	RuleSetAside        = "set_aside"
	RuleDeadlineUrgency = "deadline_urgency"
)

// deadlineUrgencyWindow is how close a response deadline has to be before the
// urgency boost applies.
const deadlineUrgencyWindow = 7 * 24 * time.Hour

// Rule is a single scoring contribution, preserved for explain output.
type Rule struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Result is the outcome of scoring one opportunity. Excluded results carry a
// -Inf score and an empty rule trail; they can never qualify for the digest.
type Result struct {
	Score    float64 `json:"score"`
	Matched  []Rule  `json:"matched_rules"`
	Excluded bool    `json:"excluded"`
}

// Qualifies reports whether the result clears the digest threshold. A score
// exactly at the threshold is included.
func (r Result) Qualifies(threshold float64) bool {
	return !r.Excluded && r.Score >= threshold
}

// Score evaluates one opportunity against the config. It is pure: the same
// opportunity, config and clock always produce the same score and the same
// rule ordering. Hard filters short-circuit before any keyword scanning.
func Score(opp *notice.Opportunity, cfg *Config, now time.Time) Result {
	if excludedByHardFilter(opp, cfg) {
		return Result{Score: math.Inf(-1), Excluded: true}
	}

	text := strings.ToLower(opp.Title + " " + opp.Description)

	var result Result
	for _, kw := range cfg.Keywords {
		// Lowercased here as well so matching does not depend on the config
		// having gone through Validate.
		keyword := strings.ToLower(strings.TrimSpace(kw.Keyword))
		if keyword != "" && strings.Contains(text, keyword) {
			result.Score += kw.Weight
			result.Matched = append(result.Matched, Rule{Name: keyword, Weight: kw.Weight})
		}
	}

	if cfg.NoticeTypeBoost != 0 && containsFold(cfg.PreferredNoticeTypes, opp.NoticeType) {
		result.Score += cfg.NoticeTypeBoost
		result.Matched = append(result.Matched, Rule{Name: RuleNoticeType, Weight: cfg.NoticeTypeBoost})
	}

	if cfg.SetAsideBoost != 0 && isSmallBusinessSetAside(opp.SetAside) {
		result.Score += cfg.SetAsideBoost
		result.Matched = append(result.Matched, Rule{Name: RuleSetAside, Weight: cfg.SetAsideBoost})
	}

	if cfg.DeadlineUrgencyBoost != 0 && opp.ResponseDeadline != nil {
		until := opp.ResponseDeadline.Sub(now)
		if until >= 0 && until <= deadlineUrgencyWindow {
			result.Score += cfg.DeadlineUrgencyBoost
			result.Matched = append(result.Matched, Rule{Name: RuleDeadlineUrgency, Weight: cfg.DeadlineUrgencyBoost})
		}
	}

	return result
}

// excludedByHardFilter applies the NAICS prefix filter and the notice-type
// exclusion list. No keyword score can override either.
func excludedByHardFilter(opp *notice.Opportunity, cfg *Config) bool {
	if len(cfg.NAICSInclude) > 0 {
		matched := false
		for _, prefix := range cfg.NAICSInclude {
			if strings.HasPrefix(opp.NAICSCode, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
	}

	return containsFold(cfg.ExcludeNoticeTypes, opp.NoticeType)
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func isSmallBusinessSetAside(setAside string) bool {
	s := strings.ToLower(setAside)
	if s == "" {
		return false
	}
	return strings.Contains(s, "sdvosb") || strings.Contains(s, "small business") || s == "sb" || s == "sba"
}
