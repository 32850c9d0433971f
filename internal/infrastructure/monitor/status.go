package monitor

import "time"

// Status is the last observed health of every probed dependency.
type Status struct {
	Components map[string]bool   `json:"components"`
	Errors     map[string]string `json:"errors,omitempty"`
	LastCheck  time.Time         `json:"last_check"`
}

// Healthy reports whether every probed component answered.
func (s Status) Healthy() bool {
	if s.LastCheck.IsZero() {
		return false
	}
	for _, ok := range s.Components {
		if !ok {
			return false
		}
	}
	return true
}
