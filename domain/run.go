package domain

import (
	"sort"
	"time"
)

// Outcome is the per-principal result of a pipeline.
type Outcome string

const (
	OutcomeSynced      Outcome = "synced"
	OutcomeFlagged     Outcome = "flagged"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeDeleted     Outcome = "deleted"
	OutcomeErrored     Outcome = "errored"
	OutcomeSkipped     Outcome = "skipped"
)

// RunStatus is the terminal status of one invocation.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunRejected            RunStatus = "rejected"
)

// StepFailure records a best-effort sub-step that did not succeed.
type StepFailure struct {
	Step   string    `json:"step"`
	Target string    `json:"target,omitempty"`
	Code   ErrorCode `json:"code"`
	Error  string    `json:"error"`
}

// PrincipalResult is the outcome of one principal inside one account.
type PrincipalResult struct {
	Username string        `json:"username"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Steps    []StepFailure `json:"steps,omitempty"`
}

// AccountResult aggregates the principal outcomes of one account.
type AccountResult struct {
	AccountID  string            `json:"account_id"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  ErrorCode         `json:"error_code,omitempty"`
	Principals []PrincipalResult `json:"principals,omitempty"`
}

// Failed reports whether the account, any of its principals or any sub-step failed.
func (a AccountResult) Failed() bool {
	if a.Error != "" {
		return true
	}
	for _, p := range a.Principals {
		if p.Outcome == OutcomeErrored || len(p.Steps) > 0 {
			return true
		}
	}
	return false
}

// RunSummary is the report returned by every orchestrator invocation.
type RunSummary struct {
	ID         string          `json:"id"`
	Mode       Mode            `json:"mode"`
	DryRun     bool            `json:"dry_run,omitempty"`
	Status     RunStatus       `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Accounts   []AccountResult `json:"accounts,omitempty"`
	Totals     map[Outcome]int `json:"totals,omitempty"`
}

// Finish sorts the account results, computes totals and the terminal status.
func (s *RunSummary) Finish(at time.Time) {
	sort.Slice(s.Accounts, func(i, j int) bool {
		return s.Accounts[i].AccountID < s.Accounts[j].AccountID
	})
	s.Totals = make(map[Outcome]int)
	status := RunCompleted
	if s.Error != "" {
		status = RunCompletedWithErrors
	}
	for i := range s.Accounts {
		acct := &s.Accounts[i]
		sort.Slice(acct.Principals, func(a, b int) bool {
			return acct.Principals[a].Username < acct.Principals[b].Username
		})
		for _, p := range acct.Principals {
			s.Totals[p.Outcome]++
		}
		if acct.Failed() {
			status = RunCompletedWithErrors
		}
	}
	if s.Status != RunRejected {
		s.Status = status
	}
	finished := at.UTC()
	s.FinishedAt = &finished
}

// Reject marks the run as refused before any side effect happened.
func (s *RunSummary) Reject(err error, at time.Time) {
	s.Status = RunRejected
	if err != nil {
		s.Error = err.Error()
	}
	finished := at.UTC()
	s.FinishedAt = &finished
}
