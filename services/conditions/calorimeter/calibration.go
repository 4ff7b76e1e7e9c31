// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package calorimeter converts the CalorimeterCalibration conditions item
// into sampling layer ranges and MIP constants per calorimeter.
//
// # Item Format
//
// The item is a properties set. For each calorimeter kind present
// (ECal, HCal, Muon):
//
//	ECalLayering = 0, 20           # first layer of each sampling range
//	ECalMip_MPV  = 0.000147        # MIP most probable value
//	ECalMip_sig  = 0.00002
//	ECalMip_Cut  = 0.00005
//
// and, shared by all kinds:
//
//	EMBarrel_SF  = 0.0175, 0.0175, 0.045  # one fraction per range, ECal first
//	HadBarrel_SF = 0.0175, 0.0175, 0.045
//	EMEndcap_SF  = ...
//	HadEndcap_SF = ...
//	timeCut      = 100.0
//
// Sampling fraction lists are indexed across kinds: HCal ranges follow the
// ECal ones and Muon ranges follow both.
package calorimeter

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// ItemName is the conditions item the calibration is read from.
const ItemName = "CalorimeterCalibration"

// Kind identifies a calorimeter system.
type Kind int

const (
	ECal Kind = iota
	HCal
	Muon
)

var kinds = []Kind{ECal, HCal, Muon}

func (k Kind) String() string {
	switch k {
	case ECal:
		return "ECal"
	case HCal:
		return "HCal"
	case Muon:
		return "Muon"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Region selects barrel or endcap sampling fractions.
type Region int

const (
	Barrel Region = iota
	Endcap
)

func (r Region) String() string {
	if r == Endcap {
		return "endcap"
	}
	return "barrel"
}

// OpenEnded is the Upper bound of the last range in a section. The range
// extends to the calorimeter's last layer.
const OpenEnded = -1

// LayerRange is a run of layers sharing sampling fractions.
type LayerRange struct {
	Lower int     `json:"lower"`
	Upper int     `json:"upper"`
	EM    float64 `json:"em"`
	Had   float64 `json:"had"`
}

// Contains reports whether layer falls within r.
func (r LayerRange) Contains(layer int) bool {
	return layer >= r.Lower && (r.Upper == OpenEnded || layer <= r.Upper)
}

// Mip holds the MIP response of one calorimeter system.
type Mip struct {
	MPV   float64 `json:"mpv"`
	Sigma float64 `json:"sigma"`
	Cut   float64 `json:"cut"`
}

// Section is the calibration of one calorimeter system.
type Section struct {
	Kind   Kind         `json:"kind"`
	Barrel []LayerRange `json:"barrel"`
	Endcap []LayerRange `json:"endcap"`
	Mip    Mip          `json:"mip"`
}

// Range returns the range of region holding layer.
func (s Section) Range(region Region, layer int) (LayerRange, bool) {
	ranges := s.Barrel
	if region == Endcap {
		ranges = s.Endcap
	}
	for _, r := range ranges {
		if r.Contains(layer) {
			return r, true
		}
	}
	return LayerRange{}, false
}

// Calibration is the converted CalorimeterCalibration item.
type Calibration struct {
	// Sections are in ECal, HCal, Muon order. Kinds without a layering
	// key are absent.
	Sections []Section `json:"sections"`
	TimeCut  float64   `json:"timeCut"`
}

// Section returns the section for k.
func (c *Calibration) Section(k Kind) (Section, bool) {
	for _, s := range c.Sections {
		if s.Kind == k {
			return s, true
		}
	}
	return Section{}, false
}

// String renders c one range per line.
func (c *Calibration) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timeCut = %g\n", c.TimeCut)
	for _, s := range c.Sections {
		fmt.Fprintf(&b, "%s mip = %g sigma = %g cut = %g\n", s.Kind, s.Mip.MPV, s.Mip.Sigma, s.Mip.Cut)
		writeRanges(&b, s.Kind, Barrel, s.Barrel)
		writeRanges(&b, s.Kind, Endcap, s.Endcap)
	}
	return b.String()
}

func writeRanges(b *strings.Builder, k Kind, region Region, ranges []LayerRange) {
	for _, r := range ranges {
		upper := "end"
		if r.Upper != OpenEnded {
			upper = fmt.Sprint(r.Upper)
		}
		fmt.Fprintf(b, "%s %s [%d - %s] em = %g had = %g\n", k, region, r.Lower, upper, r.EM, r.Had)
	}
}

// Converter returns the conditions.Converter producing *Calibration.
func Converter() conditions.Converter {
	return conditions.NewConverter(Convert)
}

// Cached returns the memoized calibration handle of m. The converter must
// be registered.
func Cached(m *conditions.Manager) (*conditions.TypedCached[*Calibration], error) {
	return conditions.Cached[*Calibration](m, ItemName)
}

// Convert reads the item name from m and builds its Calibration.
//
// # Outputs
//
//   - *Calibration: The calibration.
//   - error: conderr.ErrNotFound for a missing key, conderr.ErrMalformed
//     for unparseable values or too few sampling fractions.
func Convert(ctx context.Context, m *conditions.Manager, name string) (*Calibration, error) {
	set, err := m.Conditions(ctx, name)
	if err != nil {
		return nil, err
	}
	return FromSet(set)
}

// FromSet builds a Calibration from a CalorimeterCalibration set.
func FromSet(set *conditions.ConditionsSet) (*Calibration, error) {
	fractions := make(map[string][]float64, 4)
	for _, key := range []string{"EMBarrel_SF", "HadBarrel_SF", "EMEndcap_SF", "HadEndcap_SF"} {
		v, err := set.DoubleArray(key)
		if err != nil {
			return nil, err
		}
		fractions[key] = v
	}

	cal := &Calibration{}
	offset := 0
	for _, k := range kinds {
		layeringKey := k.String() + "Layering"
		if !set.Has(layeringKey) {
			continue
		}
		lowers, err := layers(set, layeringKey)
		if err != nil {
			return nil, err
		}
		sec := Section{Kind: k}
		if sec.Barrel, err = ranges(set, lowers, offset, fractions["EMBarrel_SF"], fractions["HadBarrel_SF"]); err != nil {
			return nil, err
		}
		if sec.Endcap, err = ranges(set, lowers, offset, fractions["EMEndcap_SF"], fractions["HadEndcap_SF"]); err != nil {
			return nil, err
		}
		if sec.Mip, err = mip(set, k); err != nil {
			return nil, err
		}
		cal.Sections = append(cal.Sections, sec)
		offset += len(lowers)
	}
	if len(cal.Sections) == 0 {
		return nil, conderr.Newf(conderr.ErrMalformed, "calorimeter.FromSet", set.Name(),
			"no ECalLayering, HCalLayering or MuonLayering key")
	}

	timeCut, err := set.Double("timeCut")
	if err != nil {
		return nil, err
	}
	cal.TimeCut = timeCut
	return cal, nil
}

// layers reads an ascending list of first-layer indices.
func layers(set *conditions.ConditionsSet, key string) ([]int, error) {
	const op = "calorimeter.layers"
	vals, err := set.DoubleArray(key)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, conderr.Newf(conderr.ErrMalformed, op, key, "empty layering in %s", set.Name())
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		if v != math.Trunc(v) || v < 0 {
			return nil, conderr.Newf(conderr.ErrMalformed, op, key, "layer %v is not a layer index", v)
		}
		out[i] = int(v)
		if i > 0 && out[i] <= out[i-1] {
			return nil, conderr.Newf(conderr.ErrMalformed, op, key, "layers must ascend, got %d after %d", out[i], out[i-1])
		}
	}
	return out, nil
}

func ranges(set *conditions.ConditionsSet, lowers []int, offset int, em, had []float64) ([]LayerRange, error) {
	need := offset + len(lowers)
	if len(em) < need || len(had) < need {
		return nil, conderr.Newf(conderr.ErrMalformed, "calorimeter.ranges", set.Name(),
			"need %d sampling fractions, have %d em and %d had", need, len(em), len(had))
	}
	out := make([]LayerRange, len(lowers))
	for i, lower := range lowers {
		upper := OpenEnded
		if i+1 < len(lowers) {
			upper = lowers[i+1] - 1
		}
		out[i] = LayerRange{Lower: lower, Upper: upper, EM: em[offset+i], Had: had[offset+i]}
	}
	return out, nil
}

func mip(set *conditions.ConditionsSet, k Kind) (Mip, error) {
	prefix := k.String() + "Mip_"
	var m Mip
	var err error
	if m.MPV, err = set.Double(prefix + "MPV"); err != nil {
		return Mip{}, err
	}
	if m.Sigma, err = set.Double(prefix + "sig"); err != nil {
		return Mip{}, err
	}
	if m.Cut, err = set.Double(prefix + "Cut"); err != nil {
		return Mip{}, err
	}
	return m, nil
}
