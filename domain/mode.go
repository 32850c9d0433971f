package domain

import (
	"fmt"
	"strings"
)

// Mode selects the pipeline a run executes for every account.
type Mode string

const (
	ModeSync       Mode = "sync"
	ModeDeactivate Mode = "deactivate"
	ModeDelete     Mode = "delete"
)

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModeSync, ModeDeactivate, ModeDelete}
}

// ParseMode validates an externally supplied mode signal.
func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ModeSync, ModeDeactivate, ModeDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unsupported mode %q (want sync, deactivate or delete)", ErrInvalidMode, raw)
	}
}
