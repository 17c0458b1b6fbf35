// Package coords maps visibility uvw coordinates onto fractional uv-grid
// positions and computes the phase corrections that go with them.
package coords

import (
	"fmt"
	"math"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// Direction is a sky direction (longitude, latitude) in radians, J2000 RA/Dec
// unless stated otherwise.
type Direction struct {
	Lon float64 `yaml:"lon" json:"lon"`
	Lat float64 `yaml:"lat" json:"lat"`
}

// NewDirectionDeg builds a Direction from degrees.
func NewDirectionDeg(lonDeg, latDeg float64) Direction {
	return Direction{Lon: lonDeg * math.Pi / 180, Lat: latDeg * math.Pi / 180}
}

func (d Direction) String() string {
	return fmt.Sprintf("(%.6f deg, %.6f deg)", d.Lon*180/math.Pi, d.Lat*180/math.Pi)
}

// basis returns the rows of the celestial-to-uvw rotation for a phase centre
// at d: u points east, v north and w towards d.
func (d Direction) basis() [3][3]float64 {
	sa, ca := math.Sincos(d.Lon)
	sd, cd := math.Sincos(d.Lat)
	return [3][3]float64{
		{-sa, ca, 0},
		{-sd * ca, -sd * sa, cd},
		{cd * ca, cd * sa, sd},
	}
}

// Reprojector converts uvw measured for one phase centre into uvw for another.
type Reprojector struct {
	m [3][3]float64
}

// NewReprojector returns the rotation taking uvw referred to from into uvw
// referred to to.
func NewReprojector(from, to Direction) Reprojector {
	a, b := from.basis(), to.basis()
	var r Reprojector
	// r = b * transpose(a)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += b[i][k] * a[j][k]
			}
			r.m[i][j] = s
		}
	}
	return r
}

// Apply rotates one uvw triple.
func (r Reprojector) Apply(uvw [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = r.m[i][0]*uvw[0] + r.m[i][1]*uvw[1] + r.m[i][2]*uvw[2]
	}
	return out
}
