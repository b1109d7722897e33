package trust

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Weights are the model parameters combining collector sub-scores. They
// are configuration, not code: two engines with the same weights, model
// version and signals produce the same decision.
type Weights struct {
	Device     float64 `yaml:"device"`
	Network    float64 `yaml:"network"`
	Payment    float64 `yaml:"payment"`
	Behavioral float64 `yaml:"behavioral"`
	Platform   float64 `yaml:"platform"`
}

// DefaultWeights mirror the shipped model configuration.
func DefaultWeights() Weights {
	return Weights{Device: 0.20, Network: 0.20, Payment: 0.25, Behavioral: 0.20, Platform: 0.15}
}

// For returns the weight for a collector name.
func (w Weights) For(collector string) float64 {
	switch strings.ToLower(collector) {
	case "device":
		return w.Device
	case "network":
		return w.Network
	case "payment":
		return w.Payment
	case "behavioral":
		return w.Behavioral
	case "platform":
		return w.Platform
	}
	return 0
}

// Validate rejects weight sets that cannot produce a score.
func (w Weights) Validate() error {
	total := w.Device + w.Network + w.Payment + w.Behavioral + w.Platform
	if total <= 0 {
		return fmt.Errorf("trust: weights must sum to a positive value")
	}
	for name, v := range map[string]float64{
		"device": w.Device, "network": w.Network, "payment": w.Payment,
		"behavioral": w.Behavioral, "platform": w.Platform,
	} {
		if v < 0 {
			return fmt.Errorf("trust: weight %s must be non-negative", name)
		}
	}
	return nil
}

// Thresholds drive the decision policy. All amounts are minor units.
type Thresholds struct {
	AutoAllow         int   `yaml:"auto_allow_threshold"`
	Block             int   `yaml:"block_threshold"`
	RefundAllow       int   `yaml:"refund_allow_threshold"`
	AutoApproveLimit  int64 `yaml:"auto_approve_limit"`
	ManualReviewLimit int64 `yaml:"manual_review_limit"`
	BlockLimit        int64 `yaml:"block_limit"`
}

// DefaultThresholds mirror the shipped policy configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoAllow:         70,
		Block:             40,
		RefundAllow:       75,
		AutoApproveLimit:  50_000,
		ManualReviewLimit: 100_000,
		BlockLimit:        500_000,
	}
}

// modelFile mirrors the YAML representation of the model parameters.
type modelFile struct {
	Version    string     `yaml:"version"`
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// LoadModel reads weights and thresholds from a YAML file on disk.
func LoadModel(path string) (string, Weights, Thresholds, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", Weights{}, Thresholds{}, fmt.Errorf("open model: %w", err)
	}
	defer file.Close()
	var model modelFile
	if err := yaml.NewDecoder(file).Decode(&model); err != nil {
		return "", Weights{}, Thresholds{}, fmt.Errorf("decode model: %w", err)
	}
	if strings.TrimSpace(model.Version) == "" {
		return "", Weights{}, Thresholds{}, fmt.Errorf("model version required")
	}
	if err := model.Weights.Validate(); err != nil {
		return "", Weights{}, Thresholds{}, err
	}
	return model.Version, model.Weights, model.Thresholds, nil
}
