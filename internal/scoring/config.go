package scoring

import (
	"fmt"
	"strings"
)

// KeywordWeight is one configured keyword rule. Keywords are declared as an
// ordered list so the matched-rule trail is reproducible run to run.
type KeywordWeight struct {
	Keyword string  `mapstructure:"keyword" json:"keyword"`
	Weight  float64 `mapstructure:"weight" json:"weight"`
}

// Config holds the relevance model: hard filters, keyword weights, boosts and
// the digest inclusion threshold. It is loaded once by the driver and consumed
// read-only.
type Config struct {
	NAICSInclude         []string        `mapstructure:"naics-include"`
	PreferredNoticeTypes []string        `mapstructure:"preferred-notice-types"`
	ExcludeNoticeTypes   []string        `mapstructure:"exclude-notice-types"`
	Keywords             []KeywordWeight `mapstructure:"keywords"`
	IncludeInDigestScore float64         `mapstructure:"include-in-digest-score"`
	NoticeTypeBoost      float64         `mapstructure:"notice-type-boost"`
	SetAsideBoost        float64         `mapstructure:"set-aside-boost"`
	DeadlineUrgencyBoost float64         `mapstructure:"deadline-urgency-boost"`
}

// Validate normalizes keyword casing and rejects configs that cannot produce
// deterministic scores.
func (c *Config) Validate() error {
	if len(c.NAICSInclude) == 0 {
		return fmt.Errorf("scoring: naics-include must list at least one NAICS prefix")
	}
	seen := make(map[string]bool, len(c.Keywords))
	for i, kw := range c.Keywords {
		keyword := strings.ToLower(strings.TrimSpace(kw.Keyword))
		if keyword == "" {
			return fmt.Errorf("scoring: keywords[%d] has an empty keyword", i)
		}
		if seen[keyword] {
			return fmt.Errorf("scoring: duplicate keyword %q", keyword)
		}
		seen[keyword] = true
		c.Keywords[i].Keyword = keyword
	}
	return nil
}
