package trust

import (
	"context"
	"strings"
	"time"

	"fanzcore/core/types"
)

// RequestContext distinguishes payment scoring from refund scoring.
type RequestContext string

const (
	ContextPayment RequestContext = "payment"
	ContextRefund  RequestContext = "refund"
)

// Proof carries the evidence attached to a verification request.
type Proof struct {
	TxID              string
	Last4             string
	BIN               string
	Email             string
	Timestamp         time.Time
	DeviceFingerprint string
	IP                string
	AVSResult         string
	CVVResult         string
	ContentAccess     bool
}

// VerificationRequest is the scoring input.
type VerificationRequest struct {
	FanID     string
	CreatorID string
	Platform  string
	Method    types.PaymentMethodKind
	Amount    types.Amount
	Context   RequestContext
	Proof     Proof
}

// Signal is one collector's contribution. A nil Score means the collector
// had no data; it lowers confidence without skewing the average.
type Signal struct {
	Collector   string
	Score       *int
	ReasonCodes []string
}

// Collector produces one risk signal. Collectors run independently and may
// run in parallel; they must be deterministic for a given request and
// provider state.
type Collector interface {
	Name() string
	Collect(ctx context.Context, req VerificationRequest) Signal
}

func score(v int) *int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

// DeviceHistory exposes fingerprint reputation lookups.
type DeviceHistory interface {
	SeenCount(fingerprint string) int
	AttemptsLastHour(fingerprint string) int
	Flagged(fingerprint string) bool
}

// DeviceCollector scores fingerprint reputation and velocity.
type DeviceCollector struct {
	History         DeviceHistory
	VelocityPerHour int
}

func (DeviceCollector) Name() string { return "device" }

func (c DeviceCollector) Collect(_ context.Context, req VerificationRequest) Signal {
	sig := Signal{Collector: c.Name()}
	fp := strings.TrimSpace(req.Proof.DeviceFingerprint)
	if fp == "" || c.History == nil {
		return sig
	}
	s := 100
	if c.History.Flagged(fp) {
		s -= 60
		sig.ReasonCodes = append(sig.ReasonCodes, "device_flagged")
	}
	if c.History.SeenCount(fp) == 0 {
		s -= 20
		sig.ReasonCodes = append(sig.ReasonCodes, "device_new")
	}
	limit := c.VelocityPerHour
	if limit <= 0 {
		limit = 10
	}
	if c.History.AttemptsLastHour(fp) > limit {
		s -= 40
		sig.ReasonCodes = append(sig.ReasonCodes, "device_velocity")
	}
	sig.Score = score(s)
	return sig
}

// IPIntel exposes network reputation lookups.
type IPIntel interface {
	// Reputation returns 0 (worst) to 100 (clean) and whether data exists.
	Reputation(ip string) (int, bool)
	TorOrVPN(ip string) bool
	CountryRisk(ip string) int
	GeoVelocityExceeded(fanID, ip string) bool
}

// NetworkCollector scores IP reputation, anonymisers and geo-velocity.
type NetworkCollector struct {
	Intel IPIntel
}

func (NetworkCollector) Name() string { return "network" }

func (c NetworkCollector) Collect(_ context.Context, req VerificationRequest) Signal {
	sig := Signal{Collector: c.Name()}
	ip := strings.TrimSpace(req.Proof.IP)
	if ip == "" || c.Intel == nil {
		return sig
	}
	rep, ok := c.Intel.Reputation(ip)
	if !ok {
		return sig
	}
	s := rep
	if c.Intel.TorOrVPN(ip) {
		s -= 30
		sig.ReasonCodes = append(sig.ReasonCodes, "network_anonymizer")
	}
	if risk := c.Intel.CountryRisk(ip); risk > 0 {
		s -= risk
		sig.ReasonCodes = append(sig.ReasonCodes, "network_country_risk")
	}
	if c.Intel.GeoVelocityExceeded(req.FanID, ip) {
		s -= 35
		sig.ReasonCodes = append(sig.ReasonCodes, "network_geo_velocity")
	}
	sig.Score = score(s)
	return sig
}

// BINDirectory exposes card BIN metadata.
type BINDirectory interface {
	// Lookup returns (countryCode, prepaid, found).
	Lookup(bin string) (string, bool, bool)
}

// PaymentCollector scores AVS/CVV results and BIN characteristics.
type PaymentCollector struct {
	BINs        BINDirectory
	HomeCountry string
}

func (PaymentCollector) Name() string { return "payment" }

func (c PaymentCollector) Collect(_ context.Context, req VerificationRequest) Signal {
	sig := Signal{Collector: c.Name()}
	if req.Method != types.MethodCard && req.Method != types.MethodApplePay && req.Method != types.MethodGooglePay {
		return sig
	}
	s := 100
	switch strings.ToUpper(req.Proof.AVSResult) {
	case "N", "FAIL":
		s -= 30
		sig.ReasonCodes = append(sig.ReasonCodes, "payment_avs_fail")
	case "":
		s -= 5
	}
	switch strings.ToUpper(req.Proof.CVVResult) {
	case "N", "FAIL":
		s -= 40
		sig.ReasonCodes = append(sig.ReasonCodes, "payment_cvv_fail")
	case "":
		s -= 5
	}
	if c.BINs != nil && req.Proof.BIN != "" {
		country, prepaid, found := c.BINs.Lookup(req.Proof.BIN)
		if found {
			if prepaid {
				s -= 15
				sig.ReasonCodes = append(sig.ReasonCodes, "payment_prepaid")
			}
			if c.HomeCountry != "" && !strings.EqualFold(country, c.HomeCountry) {
				s -= 10
				sig.ReasonCodes = append(sig.ReasonCodes, "payment_bin_foreign")
			}
		}
	}
	sig.Score = score(s)
	return sig
}

// AccountProfile exposes fan history lookups.
type AccountProfile interface {
	// Profile returns (ageDays, refunds, chargebacks, found).
	Profile(fanID string) (int, int, int, bool)
}

// BehavioralCollector scores account age and dispute history.
type BehavioralCollector struct {
	Accounts AccountProfile
}

func (BehavioralCollector) Name() string { return "behavioral" }

func (c BehavioralCollector) Collect(_ context.Context, req VerificationRequest) Signal {
	sig := Signal{Collector: c.Name()}
	if c.Accounts == nil {
		return sig
	}
	ageDays, refunds, chargebacks, found := c.Accounts.Profile(req.FanID)
	if !found {
		return sig
	}
	s := 100
	if ageDays < 7 {
		s -= 25
		sig.ReasonCodes = append(sig.ReasonCodes, "behavioral_new_account")
	}
	if refunds > 3 {
		s -= 20
		sig.ReasonCodes = append(sig.ReasonCodes, "behavioral_refund_history")
	}
	if chargebacks > 0 {
		s -= 50
		sig.ReasonCodes = append(sig.ReasonCodes, "behavioral_chargeback_history")
	}
	sig.Score = score(s)
	return sig
}

// PlatformProfile exposes platform and creator risk lookups.
type PlatformProfile interface {
	// Profile returns (platformRisk 0-100 where 0 is safest, creatorTier, found).
	Profile(platform, creatorID string) (int, string, bool)
}

// PlatformCollector scores platform risk level, creator tier and
// content-access evidence.
type PlatformCollector struct {
	Platforms PlatformProfile
}

func (PlatformCollector) Name() string { return "platform" }

func (c PlatformCollector) Collect(_ context.Context, req VerificationRequest) Signal {
	sig := Signal{Collector: c.Name()}
	if c.Platforms == nil {
		return sig
	}
	risk, tier, found := c.Platforms.Profile(req.Platform, req.CreatorID)
	if !found {
		return sig
	}
	s := 100 - risk
	if tier == "unverified" {
		s -= 15
		sig.ReasonCodes = append(sig.ReasonCodes, "platform_unverified_creator")
	}
	if req.Proof.ContentAccess {
		s += 10
		sig.ReasonCodes = append(sig.ReasonCodes, "platform_content_access")
	}
	sig.Score = score(s)
	return sig
}
