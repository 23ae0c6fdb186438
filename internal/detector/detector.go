// Package detector finds imbalance candles in a candle series and turns the
// confirmed ones into order block candidates.
//
// Both passes are pure: the same series always yields the same output and
// nothing outside the arguments is read or written.
package detector

import (
	"github.com/navid-fn/obradar/internal/models"
)

// Detector flags candles with an outsized body on outsized volume.
type Detector struct {
	// Window is the number of candles in the rolling volume and body means,
	// the flagged candle included. A candle needs at least Window candles
	// before it to be considered.
	Window int

	// BodyRatio is the minimum body/range ratio (exclusive).
	BodyRatio float64

	// VolumeRatio is the minimum volume/volume-SMA ratio (exclusive).
	VolumeRatio float64

	// BodyMultiple is the minimum body/average-body ratio (exclusive).
	BodyMultiple float64
}

// NewDetector returns a detector with the default thresholds.
func NewDetector() Detector {
	return Detector{
		Window:       20,
		BodyRatio:    0.6,
		VolumeRatio:  1.5,
		BodyMultiple: 1.5,
	}
}

// Flags are the imbalance candles of one series.
type Flags struct {
	indices []int
	byTime  map[int64]struct{}
}

// Has reports whether the candle opening at openTime was flagged.
func (f Flags) Has(openTime int64) bool {
	_, ok := f.byTime[openTime]
	return ok
}

// Indices returns the flagged series positions in ascending order.
func (f Flags) Indices() []int {
	return append([]int(nil), f.indices...)
}

func (f Flags) Len() int {
	return len(f.indices)
}

// Detect flags every candle i of an ascending series for which
//
//	body/range > BodyRatio
//	volume / mean(volume[i-Window+1..i]) > VolumeRatio
//	body > BodyMultiple * mean(body[i-Window+1..i])
//
// A zero range or a zero volume mean never qualifies.
func (d Detector) Detect(series []models.Candle) Flags {
	flags := Flags{byTime: make(map[int64]struct{})}
	w := d.Window
	if w <= 0 || len(series) <= w {
		return flags
	}

	for i := w; i < len(series); i++ {
		c := series[i]

		var volSum, bodySum float64
		for _, p := range series[i-w+1 : i+1] {
			volSum += p.Volume
			bodySum += p.Body()
		}

		if d.qualifies(c, volSum/float64(w), bodySum/float64(w)) {
			flags.indices = append(flags.indices, i)
			flags.byTime[c.OpenTime] = struct{}{}
		}
	}
	return flags
}

func (d Detector) qualifies(c models.Candle, volumeSMA, avgBody float64) bool {
	rng := c.Range()
	if rng <= 0 || volumeSMA <= 0 {
		return false
	}
	body := c.Body()
	return body/rng > d.BodyRatio &&
		c.Volume/volumeSMA > d.VolumeRatio &&
		body > d.BodyMultiple*avgBody
}
