package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name  string
		mps   float64
		units string
		want  float64
	}{
		{"mps passthrough", 10, MPS, 10},
		{"kph", 10, KPH, 36},
		{"mph", 10, MPH, 22.369362920544},
		{"unknown passthrough", 10, "furlongs", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.mps, tt.units)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tt.mps, tt.units, got, tt.want)
			}
		})
	}
}

func TestRoundTrips(t *testing.T) {
	if math.Abs(KPHToMS*MSToKPH-1) > 1e-12 {
		t.Error("kph round trip")
	}
	if math.Abs(MPHToMS*MSToMPH-1) > 1e-12 {
		t.Error("mph round trip")
	}
	if math.Abs(90*DegToRad-math.Pi/2) > 1e-12 {
		t.Error("deg to rad")
	}
}
