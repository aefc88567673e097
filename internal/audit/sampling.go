package audit

import "math/rand"

// Sampling controls audit record sampling rates per action.
type Sampling struct {
	Rate     float64 // allow/ingest sampling rate (0.0-1.0)
	DenyRate float64 // deny sampling rate (0.0-1.0)
}

// ShouldLog determines if a record should be written. Denials use
// DenyRate, everything else uses Rate.
func (s Sampling) ShouldLog(action string) bool {
	switch action {
	case ActionDeny:
		return s.DenyRate >= 1.0 || rand.Float64() < s.DenyRate
	default:
		return s.Rate >= 1.0 || rand.Float64() < s.Rate
	}
}
