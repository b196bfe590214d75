package geo

import (
	"math"
	"testing"
)

func TestDistance_Identity(t *testing.T) {
	pts := []Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 30.0, Lng: 32.0},
		{Lat: -45.5, Lng: 170.25},
	}
	for _, p := range pts {
		if d := Distance(p, p); d != 0 {
			t.Errorf("Distance(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistance_Symmetry(t *testing.T) {
	cases := []struct {
		name string
		a, b Coordinate
	}{
		{"nearby", Coordinate{30.0000, 32.0000}, Coordinate{30.00029, 32.0000}},
		{"campus scale", Coordinate{30.0000, 32.0000}, Coordinate{30.0010, 32.0000}},
		{"hemispheres", Coordinate{51.5, -0.12}, Coordinate{-33.86, 151.2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ab := Distance(tc.a, tc.b)
			ba := Distance(tc.b, tc.a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("Distance not symmetric: %v vs %v", ab, ba)
			}
		})
	}
}

func TestDistance_KnownValues(t *testing.T) {
	cases := []struct {
		name      string
		a, b      Coordinate
		wantM     float64
		tolerance float64
	}{
		// One degree of latitude spans roughly 111.2 km on a 6371 km sphere.
		{"32m north", Coordinate{30.0000, 32.0000}, Coordinate{30.00029, 32.0000}, 32, 2},
		{"111m north", Coordinate{30.0000, 32.0000}, Coordinate{30.0010, 32.0000}, 111, 2},
		{"one degree latitude", Coordinate{0, 0}, Coordinate{1, 0}, 111195, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			if math.Abs(got-tc.wantM) > tc.tolerance {
				t.Errorf("Distance = %.2f m, want %.0f m ± %.0f", got, tc.wantM, tc.tolerance)
			}
		})
	}
}
