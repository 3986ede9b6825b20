package classify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"road-state-gateway/internal/config"
	"road-state-gateway/internal/data"
)

func TestClassifyBoundaries(t *testing.T) {
	c := Default()

	tests := []struct {
		x    float64
		want data.RoadState
	}{
		{0, data.RoadGood},
		{10, data.RoadGood},
		{75, data.RoadGood},
		{75.0001, data.RoadMedium},
		{150, data.RoadMedium},
		{150.0001, data.RoadBad},
		{1e9, data.RoadBad},
		{-0.5, data.RoadBad},
		{math.Inf(1), data.RoadBad},
		{math.Inf(-1), data.RoadBad},
		{math.NaN(), data.RoadBad},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.x), "x=%v", tt.x)
	}
}

func TestClassifyFromConfig(t *testing.T) {
	c := NewFromConfig(config.ClassifierConfig{GoodMax: 10, MediumMax: 20})

	assert.Equal(t, data.RoadGood, c.Classify(10))
	assert.Equal(t, data.RoadMedium, c.Classify(15))
	assert.Equal(t, data.RoadBad, c.Classify(21))

	s := data.RawSample{Accelerometer: data.Accelerometer{X: 12}}
	assert.Equal(t, data.RoadMedium, c.Sample(s))
}
