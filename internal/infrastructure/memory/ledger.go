package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

// Ledger operations accepted by Ledger.Fail.
const (
	LedgerGet    = "get"
	LedgerPut    = "put"
	LedgerUpdate = "update"
	LedgerScan   = "scan"
)

// Ledger is a process-local LedgerRepository.
type Ledger struct {
	mu       sync.RWMutex
	rows     map[domain.RecordKey]domain.LedgerRecord
	failures map[string]error
}

var _ repository.LedgerRepository = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		rows:     make(map[domain.RecordKey]domain.LedgerRecord),
		failures: make(map[string]error),
	}
}

// Fail makes op fail with err for key. An empty username matches the whole account.
func (l *Ledger) Fail(op string, key domain.RecordKey, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op+"|"+key.String()] = err
}

func (l *Ledger) failure(op string, key domain.RecordKey) error {
	if err, ok := l.failures[op+"|"+key.String()]; ok {
		return err
	}
	if err, ok := l.failures[op+"|"+domain.RecordKey{AccountID: key.AccountID}.String()]; ok {
		return err
	}
	return nil
}

func (l *Ledger) EnsureTable(ctx context.Context) error {
	return nil
}

func (l *Ledger) Get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.failure(LedgerGet, key); err != nil {
		return nil, err
	}
	record, ok := l.rows[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &record, nil
}

func (l *Ledger) Put(ctx context.Context, record *domain.LedgerRecord) error {
	if record == nil || record.AccountID == "" || record.Username == "" {
		return domain.ErrInvalidPayload
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failure(LedgerPut, record.Key()); err != nil {
		return err
	}
	l.rows[record.Key()] = *record
	return nil
}

func (l *Ledger) UpdateFields(ctx context.Context, key domain.RecordKey, fields domain.Fields) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failure(LedgerUpdate, key); err != nil {
		return err
	}
	record, ok := l.rows[key]
	if !ok {
		return domain.ErrRecordNotFound
	}
	fields.Apply(&record)
	l.rows[key] = record
	return nil
}

func (l *Ledger) Scan(ctx context.Context, filter repository.LedgerFilter) ([]domain.LedgerRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.failure(LedgerScan, domain.RecordKey{AccountID: filter.AccountID}); err != nil {
		return nil, err
	}
	var out []domain.LedgerRecord
	for _, record := range l.rows {
		record := record
		if filter.Match(&record) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}
