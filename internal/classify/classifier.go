// internal/classify/classifier.go
package classify

import (
	"math"

	"road-state-gateway/internal/config"
	"road-state-gateway/internal/data"
)

const (
	DefaultGoodMax   = 75.0
	DefaultMediumMax = 150.0
)

// Classifier maps the accelerometer x reading of a sample to a road state.
// Readings up to GoodMax are Good, up to MediumMax are Medium, anything else
// (including negative and NaN readings) is Bad.
type Classifier struct {
	goodMax   float64
	mediumMax float64
}

func New(goodMax, mediumMax float64) *Classifier {
	return &Classifier{goodMax: goodMax, mediumMax: mediumMax}
}

// NewFromConfig builds a classifier from the configured thresholds.
func NewFromConfig(cfg config.ClassifierConfig) *Classifier {
	return New(cfg.GoodMax, cfg.MediumMax)
}

// Default uses the stock 75 / 150 thresholds.
func Default() *Classifier {
	return New(DefaultGoodMax, DefaultMediumMax)
}

func (c *Classifier) Classify(x float64) data.RoadState {
	switch {
	case math.IsNaN(x) || x < 0:
		return data.RoadBad
	case x <= c.goodMax:
		return data.RoadGood
	case x <= c.mediumMax:
		return data.RoadMedium
	default:
		return data.RoadBad
	}
}

// Sample classifies a raw sample.
func (c *Classifier) Sample(s data.RawSample) data.RoadState {
	return c.Classify(s.Accelerometer.X)
}
