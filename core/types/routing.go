package types

import "time"

// MerchantAccount is the unit of routing selection: one MID at one
// processor, with the hard constraints the router filters against.
type MerchantAccount struct {
	MID              string    `json:"mid"`
	Processor        string    `json:"processor"`
	Region           string    `json:"region"`
	Descriptor       string    `json:"descriptor"`
	Currency         string    `json:"currency"`
	MinAmount        int64     `json:"minAmount"`
	MaxAmount        int64     `json:"maxAmount"`
	Platforms        []string  `json:"platforms,omitempty"`
	RiskProfile      string    `json:"riskProfile"`
	KillSwitch       bool      `json:"killSwitch"`
	DailyVolumeCap   int64     `json:"dailyVolumeCap"`
	MonthlyVolumeCap int64     `json:"monthlyVolumeCap"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AllowsPlatform reports whether the MID accepts traffic for a platform.
// An empty platform list means unrestricted.
func (m MerchantAccount) AllowsPlatform(platform string) bool {
	if len(m.Platforms) == 0 {
		return true
	}
	for _, p := range m.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// AmountRange is inclusive on the lower bound, exclusive on the upper.
// A zero upper bound means unbounded.
type AmountRange struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

// Contains reports whether units falls inside [Min, Max).
func (r AmountRange) Contains(units int64) bool {
	if units < r.Min {
		return false
	}
	if r.Max > 0 && units >= r.Max {
		return false
	}
	return true
}

// ScoreRange bounds a trust score, inclusive both ends. Zero value matches
// everything.
type ScoreRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Contains reports whether score falls inside the range.
func (r ScoreRange) Contains(score int) bool {
	if score < r.Min {
		return false
	}
	if r.Max > 0 && score > r.Max {
		return false
	}
	return true
}

// BINRange matches card BIN prefixes lexically: Lo <= bin <= Hi.
type BINRange struct {
	Lo string `json:"lo" yaml:"lo"`
	Hi string `json:"hi" yaml:"hi"`
}

// TimeWindow matches the UTC hour of day in [StartHour, EndHour). Windows
// crossing midnight wrap.
type TimeWindow struct {
	StartHour int `json:"startHour" yaml:"start_hour"`
	EndHour   int `json:"endHour" yaml:"end_hour"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	hour := t.UTC().Hour()
	if w.StartHour == w.EndHour {
		return true
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// RuleConditions gate a routing rule. Zero-valued members match everything.
type RuleConditions struct {
	Platforms  []string            `json:"platforms,omitempty" yaml:"platforms"`
	Regions    []string            `json:"regions,omitempty" yaml:"regions"`
	Currencies []string            `json:"currencies,omitempty" yaml:"currencies"`
	Methods    []PaymentMethodKind `json:"methods,omitempty" yaml:"methods"`
	Amount     AmountRange         `json:"amount" yaml:"amount"`
	TrustScore ScoreRange          `json:"trustScore" yaml:"trust_score"`
	BINRanges  []BINRange          `json:"binRanges,omitempty" yaml:"bin_ranges"`
	Windows    []TimeWindow        `json:"windows,omitempty" yaml:"windows"`
	UserTags   []string            `json:"userTags,omitempty" yaml:"user_tags"`
}

// RuleTarget names the MIDs a matching rule routes to.
type RuleTarget struct {
	Primary         string   `json:"primary" yaml:"primary"`
	Fallbacks       []string `json:"fallbacks,omitempty" yaml:"fallbacks"`
	SplitPercentage int      `json:"splitPercentage" yaml:"split_percentage"`
}

// CanaryConfig diverts a deterministic slice of matched traffic to an
// alternative MID.
type CanaryConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Target     string   `json:"target" yaml:"target"`
	Percentage int      `json:"percentage" yaml:"percentage"`
	Platforms  []string `json:"platforms,omitempty" yaml:"platforms"`
}

// RoutingRule is evaluated in ascending priority order; equal priorities
// break ties by rule id ascending.
type RoutingRule struct {
	ID         string         `json:"id" yaml:"id"`
	Priority   int            `json:"priority" yaml:"priority"`
	Active     bool           `json:"active" yaml:"active"`
	Conditions RuleConditions `json:"conditions" yaml:"conditions"`
	Target     RuleTarget     `json:"target" yaml:"target"`
	Canary     CanaryConfig   `json:"canary" yaml:"canary"`
}
