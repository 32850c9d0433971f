package dynamodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/fastygo/iamcleaner/domain"
)

// legacyLayout is the timestamp format of rows written by the first generation of the cleaner.
const legacyLayout = "01/02/2006, 15:04:05"

// item is the stored shape of a ledger row. Empty strings mean "unset".
type item struct {
	AccountID  string `dynamodbav:"account_id"`
	Username   string `dynamodbav:"username"`
	LastAccess string `dynamodbav:"last_access"`
	InactiveAt string `dynamodbav:"inactive_at"`
	DeleteAt   string `dynamodbav:"delete_at"`
	CreatedAt  string `dynamodbav:"created_at"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC3339 and the legacy layout. Legacy values carry no zone and are read as UTC.
func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation(legacyLayout, raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("unrecognized timestamp %q", raw)
	}
	return &t, nil
}

func toItem(r *domain.LedgerRecord) item {
	created, updated := r.CreatedAt, r.UpdatedAt
	return item{
		AccountID:  r.AccountID,
		Username:   r.Username,
		LastAccess: formatTime(r.LastAccess),
		InactiveAt: formatTime(r.InactiveAt),
		DeleteAt:   formatTime(r.DeleteAt),
		CreatedAt:  formatTime(&created),
		UpdatedAt:  formatTime(&updated),
	}
}

func fromItem(it item) (*domain.LedgerRecord, error) {
	record := &domain.LedgerRecord{AccountID: it.AccountID, Username: it.Username}
	var err error
	if record.LastAccess, err = parseTime(it.LastAccess); err != nil {
		return nil, fmt.Errorf("last_access: %w", err)
	}
	if record.InactiveAt, err = parseTime(it.InactiveAt); err != nil {
		return nil, fmt.Errorf("inactive_at: %w", err)
	}
	if record.DeleteAt, err = parseTime(it.DeleteAt); err != nil {
		return nil, fmt.Errorf("delete_at: %w", err)
	}
	created, err := parseTime(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if created != nil {
		record.CreatedAt = *created
	}
	updated, err := parseTime(it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if updated != nil {
		record.UpdatedAt = *updated
	}
	return record, nil
}
