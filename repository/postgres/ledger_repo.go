package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS iam_ledger (
	account_id  TEXT        NOT NULL,
	username    TEXT        NOT NULL,
	last_access TIMESTAMPTZ NULL,
	inactive_at TIMESTAMPTZ NULL,
	delete_at   TIMESTAMPTZ NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, username)
)`

const ledgerColumns = `account_id, username, last_access, inactive_at, delete_at, created_at, updated_at`

// EnsureFunc creates the ledger schema, typically by applying migrations.
type EnsureFunc func(ctx context.Context) error

type ledgerRepository struct {
	db       querier
	ensure   EnsureFunc
	pageSize int
}

// NewLedgerRepository returns a Postgres-backed ledger. When ensure is nil the
// table is created with an inline CREATE TABLE IF NOT EXISTS.
func NewLedgerRepository(db querier, ensure EnsureFunc, pageSize int) repository.LedgerRepository {
	return &ledgerRepository{db: db, ensure: ensure, pageSize: clampLimit(pageSize)}
}

func (r *ledgerRepository) EnsureTable(ctx context.Context) error {
	if r.ensure != nil {
		return r.ensure(ctx)
	}
	if _, err := r.db.Exec(ctx, ledgerSchema); err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, "ensure ledger table", err)
	}
	return nil
}

func (r *ledgerRepository) Get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM iam_ledger WHERE account_id = $1 AND username = $2`,
		key.AccountID, key.Username,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("get ledger record %s", key), err)
	}
	return record, nil
}

func (r *ledgerRepository) Put(ctx context.Context, record *domain.LedgerRecord) error {
	if record == nil || record.AccountID == "" || record.Username == "" {
		return domain.ErrInvalidPayload
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO iam_ledger (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, username) DO UPDATE SET
			last_access = EXCLUDED.last_access,
			inactive_at = EXCLUDED.inactive_at,
			delete_at = EXCLUDED.delete_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		record.AccountID,
		record.Username,
		nullTime(record.LastAccess),
		nullTime(record.InactiveAt),
		nullTime(record.DeleteAt),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("put ledger record %s", record.Key()), err)
	}
	return nil
}

func (r *ledgerRepository) UpdateFields(ctx context.Context, key domain.RecordKey, fields domain.Fields) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE iam_ledger SET
			last_access = CASE WHEN $3 THEN NULL ELSE COALESCE($4, last_access) END,
			inactive_at = COALESCE(inactive_at, $5),
			delete_at = COALESCE(delete_at, $6),
			updated_at = $7
		WHERE account_id = $1 AND username = $2`,
		key.AccountID,
		key.Username,
		fields.ClearLastAccess,
		nullTime(fields.LastAccess),
		nullTime(fields.InactiveAt),
		nullTime(fields.DeleteAt),
		fields.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("update ledger record %s", key), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// Scan pages through the table with keyset pagination on the primary key.
func (r *ledgerRepository) Scan(ctx context.Context, filter repository.LedgerFilter) ([]domain.LedgerRecord, error) {
	var (
		out         []domain.LedgerRecord
		lastAccount string
		lastUser    string
	)
	for {
		page, err := r.scanPage(ctx, filter, lastAccount, lastUser)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < r.pageSize {
			return out, nil
		}
		tail := page[len(page)-1]
		lastAccount, lastUser = tail.AccountID, tail.Username
	}
}

func (r *ledgerRepository) scanPage(ctx context.Context, filter repository.LedgerFilter, afterAccount, afterUser string) ([]domain.LedgerRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM iam_ledger
		WHERE ($1 = '' OR account_id = $1)
			AND (NOT $2 OR inactive_at IS NOT NULL)
			AND (NOT $3 OR delete_at IS NULL)
			AND (NOT $4 OR delete_at IS NOT NULL)
			AND (NOT $5 OR inactive_at IS NULL)
			AND (account_id, username) > ($6, $7)
		ORDER BY account_id, username
		LIMIT $8`,
		filter.AccountID,
		filter.InactiveOnly,
		filter.ExcludeDeleted,
		filter.DeletedOnly,
		filter.ActiveOnly,
		afterAccount,
		afterUser,
		r.pageSize,
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "scan ledger", err)
	}
	defer rows.Close()

	var page []domain.LedgerRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInternal, "scan ledger row", err)
		}
		page = append(page, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "scan ledger", err)
	}
	return page, nil
}

func scanRecord(row interface{ Scan(dest ...any) error }) (*domain.LedgerRecord, error) {
	var record domain.LedgerRecord
	if err := row.Scan(
		&record.AccountID,
		&record.Username,
		&record.LastAccess,
		&record.InactiveAt,
		&record.DeleteAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.LastAccess = utcPtr(record.LastAccess)
	record.InactiveAt = utcPtr(record.InactiveAt)
	record.DeleteAt = utcPtr(record.DeleteAt)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}
