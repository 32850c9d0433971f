package transport

import "strings"

// RunDetail mirrors the scheduler event payload.
type RunDetail struct {
	Mode string `json:"mode"`
}

// RunRequest triggers a run. Both {"detail":{"mode":"sync"}} and {"mode":"sync"} are accepted.
type RunRequest struct {
	Detail   *RunDetail `json:"detail,omitempty"`
	Mode     string     `json:"mode,omitempty"`
	Accounts []string   `json:"accounts,omitempty"`
}

// ModeSignal returns the requested mode, preferring the event-shaped field.
func (r RunRequest) ModeSignal() string {
	if r.Detail != nil && strings.TrimSpace(r.Detail.Mode) != "" {
		return r.Detail.Mode
	}
	return r.Mode
}
