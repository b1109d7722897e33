// Package routing selects the merchant account (MID) a payment is sent
// through. Rules are evaluated in ascending priority order against the
// request attributes; the first matching rule whose primary MID passes
// the hard constraints wins. Canary splits divert a deterministic slice
// of matched traffic so a given fan always lands on the same side.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"fanzcore/core/types"
)

// ErrNoRoute reports that no eligible MID exists for the request.
var ErrNoRoute = errors.New("routing: no eligible merchant account")

// Request carries the attributes rules match against.
type Request struct {
	FanID      string
	CreatorID  string
	Platform   string
	Region     string
	Method     types.PaymentMethodKind
	Amount     types.Amount
	TrustScore int
	BIN        string
	UserTags   []string
}

// Decision is the routing outcome: the selected MID plus the ordered
// fallback list the orchestrator walks on retriable declines.
type Decision struct {
	MID       string
	Processor string
	RuleID    string
	Canary    bool
	Fallbacks []string
}

// Availability reports whether a processor is currently accepting
// traffic. The orchestrator wires the circuit-breaker state here.
type Availability func(processor string) bool

// Router evaluates the active rule snapshot.
type Router struct {
	snapshots *SnapshotHolder
	volumes   *VolumeTracker
	available Availability
	now       func() time.Time
}

// Option customises the router instance.
type Option func(*Router)

// WithAvailability wires processor health into MID eligibility.
func WithAvailability(fn Availability) Option {
	return func(r *Router) {
		if fn != nil {
			r.available = fn
		}
	}
}

// WithVolumeTracker shares a tracker with the settlement path.
func WithVolumeTracker(v *VolumeTracker) Option {
	return func(r *Router) {
		if v != nil {
			r.volumes = v
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Router) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRouter constructs a router over a snapshot holder.
func NewRouter(snapshots *SnapshotHolder, opts ...Option) (*Router, error) {
	if snapshots == nil || snapshots.Load() == nil {
		return nil, fmt.Errorf("routing: snapshot required")
	}
	r := &Router{
		snapshots: snapshots,
		volumes:   NewVolumeTracker(),
		available: func(string) bool { return true },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Volumes exposes the tracker so captures can be recorded against caps.
func (r *Router) Volumes() *VolumeTracker { return r.volumes }

// Account resolves a MID against the current snapshot. Callers walking a
// fallback chain use this to recover the processor behind each MID.
func (r *Router) Account(mid string) (types.MerchantAccount, bool) {
	return r.snapshots.Load().Account(mid)
}

// Swap publishes a new rule snapshot. In-flight routes finish against
// the snapshot they started with.
func (r *Router) Swap(next *Snapshot) { r.snapshots.Swap(next) }

// Route picks a MID for the request. When a matched rule's primary and
// all fallbacks fail the hard constraints, evaluation continues with the
// next rule; the default MID is the last resort.
func (r *Router) Route(req Request) (Decision, error) {
	snap := r.snapshots.Load()
	at := r.now()

	for _, rule := range snap.Rules() {
		if !rule.Active || !r.matches(rule.Conditions, req, at) {
			continue
		}
		primary := rule.Target.Primary
		canary := false
		if target, ok := r.canaryTarget(rule, req); ok {
			primary = target
			canary = true
		}
		candidates := append([]string{primary}, rule.Target.Fallbacks...)
		for i, mid := range candidates {
			account, ok := snap.Account(mid)
			if !ok || !r.eligible(account, req, at) {
				continue
			}
			return Decision{
				MID:       mid,
				Processor: account.Processor,
				RuleID:    rule.ID,
				Canary:    canary && i == 0,
				Fallbacks: remaining(candidates, i),
			}, nil
		}
	}

	if mid := snap.DefaultMID(); mid != "" {
		if account, ok := snap.Account(mid); ok && r.eligible(account, req, at) {
			return Decision{MID: mid, Processor: account.Processor, RuleID: "default"}, nil
		}
	}
	return Decision{}, ErrNoRoute
}

func remaining(candidates []string, used int) []string {
	if used+1 >= len(candidates) {
		return nil
	}
	rest := make([]string, len(candidates)-used-1)
	copy(rest, candidates[used+1:])
	return rest
}

// canaryTarget decides deterministically whether this fan falls in the
// rule's canary slice. The bucket is a blake3 hash of fan id and rule id
// so redeploys and snapshot swaps do not reshuffle assignment.
func (r *Router) canaryTarget(rule types.RoutingRule, req Request) (string, bool) {
	c := rule.Canary
	if !c.Enabled || c.Target == "" || c.Percentage <= 0 {
		return "", false
	}
	if len(c.Platforms) > 0 && !containsFold(c.Platforms, req.Platform) {
		return "", false
	}
	sum := blake3.Sum256([]byte(req.FanID + "|" + rule.ID))
	bucket := int(sum[0])<<8 | int(sum[1])
	if bucket%100 < c.Percentage {
		return c.Target, true
	}
	return "", false
}

func (r *Router) matches(cond types.RuleConditions, req Request, at time.Time) bool {
	if len(cond.Platforms) > 0 && !containsFold(cond.Platforms, req.Platform) {
		return false
	}
	if len(cond.Regions) > 0 && !containsFold(cond.Regions, req.Region) {
		return false
	}
	if len(cond.Currencies) > 0 && !containsFold(cond.Currencies, req.Amount.Currency) {
		return false
	}
	if len(cond.Methods) > 0 && !containsMethod(cond.Methods, req.Method) {
		return false
	}
	if !cond.Amount.Contains(req.Amount.Units) {
		return false
	}
	if !cond.TrustScore.Contains(req.TrustScore) {
		return false
	}
	if len(cond.BINRanges) > 0 && !matchesBIN(cond.BINRanges, req.BIN) {
		return false
	}
	if len(cond.Windows) > 0 && !matchesWindow(cond.Windows, at) {
		return false
	}
	if len(cond.UserTags) > 0 && !intersects(cond.UserTags, req.UserTags) {
		return false
	}
	return true
}

// eligible applies the hard constraints a MID must pass regardless of
// which rule selected it.
func (r *Router) eligible(account types.MerchantAccount, req Request, at time.Time) bool {
	if account.KillSwitch {
		return false
	}
	if !r.available(account.Processor) {
		return false
	}
	if account.Currency != "" && !strings.EqualFold(account.Currency, req.Amount.Currency) {
		return false
	}
	if req.Amount.Units < account.MinAmount {
		return false
	}
	// Amount limits are [min, max), matching AmountRange.
	if account.MaxAmount > 0 && req.Amount.Units >= account.MaxAmount {
		return false
	}
	if !account.AllowsPlatform(req.Platform) {
		return false
	}
	if r.volumes.WouldExceed(account.MID, account.DailyVolumeCap, account.MonthlyVolumeCap, req.Amount.Units, at) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func containsMethod(kinds []types.PaymentMethodKind, kind types.PaymentMethodKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func matchesBIN(ranges []types.BINRange, bin string) bool {
	if bin == "" {
		return false
	}
	for _, r := range ranges {
		if bin >= r.Lo && bin <= r.Hi {
			return true
		}
	}
	return false
}

func matchesWindow(windows []types.TimeWindow, at time.Time) bool {
	for _, w := range windows {
		if w.Contains(at) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}
