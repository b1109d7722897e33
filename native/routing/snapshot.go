package routing

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"fanzcore/core/types"
)

// Snapshot is an immutable view of the routing configuration. Readers hold
// a reference while a single writer swaps the snapshot atomically; they
// see either the old or the new consistent state, never a mix.
type Snapshot struct {
	rules    []types.RoutingRule
	accounts map[string]types.MerchantAccount
	defaults string
}

// NewSnapshot sorts rules by (priority, id) and indexes accounts by MID.
func NewSnapshot(rules []types.RoutingRule, accounts []types.MerchantAccount, defaultMID string) *Snapshot {
	sorted := make([]types.RoutingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	index := make(map[string]types.MerchantAccount, len(accounts))
	for _, account := range accounts {
		index[account.MID] = account
	}
	return &Snapshot{rules: sorted, accounts: index, defaults: defaultMID}
}

// Rules returns the ordered active rule list.
func (s *Snapshot) Rules() []types.RoutingRule { return s.rules }

// Account resolves a MID.
func (s *Snapshot) Account(mid string) (types.MerchantAccount, bool) {
	account, ok := s.accounts[mid]
	return account, ok
}

// DefaultMID is used when no rule matches.
func (s *Snapshot) DefaultMID() string { return s.defaults }

// SnapshotHolder publishes snapshots to concurrent readers.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

// NewSnapshotHolder seeds the holder with an initial snapshot.
func NewSnapshotHolder(initial *Snapshot) *SnapshotHolder {
	holder := &SnapshotHolder{}
	holder.current.Store(initial)
	return holder
}

// Load returns the current snapshot.
func (h *SnapshotHolder) Load() *Snapshot { return h.current.Load() }

// Swap atomically replaces the snapshot.
func (h *SnapshotHolder) Swap(next *Snapshot) {
	if next != nil {
		h.current.Store(next)
	}
}

// rulesFile mirrors the YAML routing configuration.
type rulesFile struct {
	DefaultMID string                 `yaml:"default_mid"`
	Rules      []types.RoutingRule    `yaml:"rules"`
	Accounts   []merchantAccountEntry `yaml:"accounts"`
}

type merchantAccountEntry struct {
	MID              string   `yaml:"mid"`
	Processor        string   `yaml:"processor"`
	Region           string   `yaml:"region"`
	Descriptor       string   `yaml:"descriptor"`
	Currency         string   `yaml:"currency"`
	MinAmount        int64    `yaml:"min_amount"`
	MaxAmount        int64    `yaml:"max_amount"`
	Platforms        []string `yaml:"platforms"`
	RiskProfile      string   `yaml:"risk_profile"`
	KillSwitch       bool     `yaml:"kill_switch"`
	DailyVolumeCap   int64    `yaml:"daily_volume_cap"`
	MonthlyVolumeCap int64    `yaml:"monthly_volume_cap"`
}

// LoadSnapshot reads routing rules and merchant accounts from a YAML file.
func LoadSnapshot(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routing config: %w", err)
	}
	defer file.Close()
	var cfg rulesFile
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode routing config: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return nil, fmt.Errorf("routing rule id required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate routing rule %s", id)
		}
		seen[id] = struct{}{}
	}
	accounts := make([]types.MerchantAccount, 0, len(cfg.Accounts))
	for _, entry := range cfg.Accounts {
		mid := strings.TrimSpace(entry.MID)
		if mid == "" {
			return nil, fmt.Errorf("merchant account mid required")
		}
		accounts = append(accounts, types.MerchantAccount{
			MID:              mid,
			Processor:        strings.ToLower(strings.TrimSpace(entry.Processor)),
			Region:           entry.Region,
			Descriptor:       entry.Descriptor,
			Currency:         types.NormalizeCurrency(entry.Currency),
			MinAmount:        entry.MinAmount,
			MaxAmount:        entry.MaxAmount,
			Platforms:        entry.Platforms,
			RiskProfile:      entry.RiskProfile,
			KillSwitch:       entry.KillSwitch,
			DailyVolumeCap:   entry.DailyVolumeCap,
			MonthlyVolumeCap: entry.MonthlyVolumeCap,
		})
	}
	return NewSnapshot(cfg.Rules, accounts, cfg.DefaultMID), nil
}
