package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the exchange interval key of a candle series.
type Timeframe string

const (
	Timeframe1   Timeframe = "1"
	Timeframe3   Timeframe = "3"
	Timeframe5   Timeframe = "5"
	Timeframe15  Timeframe = "15"
	Timeframe30  Timeframe = "30"
	Timeframe60  Timeframe = "60"
	Timeframe120 Timeframe = "120"
	Timeframe240 Timeframe = "240"
	Timeframe360 Timeframe = "360"
	Timeframe720 Timeframe = "720"
	TimeframeD   Timeframe = "D"
	TimeframeW   Timeframe = "W"
	TimeframeM   Timeframe = "M"
)

var buckets = map[Timeframe]time.Duration{
	Timeframe1:   time.Minute,
	Timeframe3:   3 * time.Minute,
	Timeframe5:   5 * time.Minute,
	Timeframe15:  15 * time.Minute,
	Timeframe30:  30 * time.Minute,
	Timeframe60:  time.Hour,
	Timeframe120: 2 * time.Hour,
	Timeframe240: 4 * time.Hour,
	Timeframe360: 6 * time.Hour,
	Timeframe720: 12 * time.Hour,
	TimeframeD:   24 * time.Hour,
	TimeframeW:   7 * 24 * time.Hour,
	// Months vary in length; 30 days is only used to step the pagination cursor.
	TimeframeM: 30 * 24 * time.Hour,
}

// SupportedTimeframes lists every interval the exchange serves, shortest first.
var SupportedTimeframes = []Timeframe{
	Timeframe1, Timeframe3, Timeframe5, Timeframe15, Timeframe30, Timeframe60,
	Timeframe120, Timeframe240, Timeframe360, Timeframe720, TimeframeD, TimeframeW, TimeframeM,
}

// DefaultDetectionTimeframes are the series scanned when nothing is configured.
var DefaultDetectionTimeframes = []Timeframe{Timeframe5, Timeframe15, Timeframe60, Timeframe240, TimeframeD}

// Bucket returns the duration of one candle. Unknown timeframes return 0.
func (tf Timeframe) Bucket() time.Duration {
	return buckets[tf]
}

// BucketMillis is Bucket in epoch milliseconds.
func (tf Timeframe) BucketMillis() int64 {
	return tf.Bucket().Milliseconds()
}

func (tf Timeframe) Valid() bool {
	_, ok := buckets[tf]
	return ok
}

// ParseTimeframe accepts the exchange keys, case-insensitive for D/W/M.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if !tf.Valid() {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// ParseTimeframes parses a comma separated list, skipping blanks.
func ParseTimeframes(s string) ([]Timeframe, error) {
	var out []Timeframe
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		tf, err := ParseTimeframe(part)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// Partition is the unit of independent processing.
type Partition struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

func (p Partition) String() string {
	return p.Symbol + "/" + string(p.Timeframe)
}
