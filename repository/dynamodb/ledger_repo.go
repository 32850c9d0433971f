package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

const (
	attrAccount    = "account_id"
	attrUsername   = "username"
	attrInactiveAt = "inactive_at"
	attrDeleteAt   = "delete_at"
	attrUpdatedAt  = "updated_at"

	maxUpdateAttempts = 3
	tableWaitTimeout  = 2 * time.Minute
)

// API is the subset of the DynamoDB client the ledger uses.
type API interface {
	dynamodb.DescribeTableAPIClient
	dynamodb.ScanAPIClient
	dynamodb.QueryAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type ledgerRepository struct {
	client API
	table  string
	logger *zap.Logger
}

// NewLedgerRepository returns a ledger stored in a DynamoDB table keyed by
// account_id (HASH) and username (RANGE).
func NewLedgerRepository(client API, table string, logger *zap.Logger) repository.LedgerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = "iam_ledger"
	}
	return &ledgerRepository{client: client, table: table, logger: logger}
}

// Ping describes the ledger table.
func (r *ledgerRepository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	return err
}

func (r *ledgerRepository) EnsureTable(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return domain.WrapError(domain.ErrCodeUnavailable, "describe ledger table", err)
	}

	r.logger.Info("creating ledger table", zap.String("table", r.table))
	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrAccount), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrUsername), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrAccount), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrUsername), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return domain.WrapError(domain.ErrCodeUnavailable, "create ledger table", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(r.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)}, tableWaitTimeout); err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, "wait for ledger table", err)
	}
	return nil
}

func (r *ledgerRepository) Get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error) {
	record, _, err := r.get(ctx, key)
	return record, err
}

func (r *ledgerRepository) get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("get ledger record %s", key), err)
	}
	if len(out.Item) == 0 {
		return nil, "", domain.ErrRecordNotFound
	}
	var stored item
	if err := attributevalue.UnmarshalMap(out.Item, &stored); err != nil {
		return nil, "", domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("decode ledger record %s", key), err)
	}
	record, err := fromItem(stored)
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("decode ledger record %s", key), err)
	}
	return record, stored.UpdatedAt, nil
}

func (r *ledgerRepository) Put(ctx context.Context, record *domain.LedgerRecord) error {
	if record == nil || record.AccountID == "" || record.Username == "" {
		return domain.ErrInvalidPayload
	}
	av, err := attributevalue.MarshalMap(toItem(record))
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("encode ledger record %s", record.Key()), err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: av}); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("put ledger record %s", record.Key()), err)
	}
	return nil
}

// UpdateFields reads the row, applies fields and writes it back guarded by the
// previous updated_at. Legacy rows store unset timestamps as "", which update
// expressions cannot tell apart from set ones.
func (r *ledgerRepository) UpdateFields(ctx context.Context, key domain.RecordKey, fields domain.Fields) error {
	for attempt := 1; ; attempt++ {
		record, previous, err := r.get(ctx, key)
		if err != nil {
			return err
		}
		fields.Apply(record)

		av, err := attributevalue.MarshalMap(toItem(record))
		if err != nil {
			return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("encode ledger record %s", key), err)
		}
		unchanged := expression.Name(attrUpdatedAt).Equal(expression.Value(previous))
		if previous == "" {
			unchanged = isUnset(attrUpdatedAt)
		}
		cond := expression.Name(attrAccount).AttributeExists().And(unchanged)
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return domain.WrapError(domain.ErrCodeInternal, "build ledger condition", err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(r.table),
			Item:                      av,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err == nil {
			return nil
		}
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) && attempt < maxUpdateAttempts {
			r.logger.Debug("ledger row changed concurrently, retrying", zap.String("key", key.String()), zap.Int("attempt", attempt))
			continue
		}
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("update ledger record %s", key), err)
	}
}

// Scan queries one partition when the filter names an account and scans the
// table otherwise. Both follow LastEvaluatedKey until exhausted.
func (r *ledgerRepository) Scan(ctx context.Context, filter repository.LedgerFilter) ([]domain.LedgerRecord, error) {
	builder := expression.NewBuilder()
	cond, hasCond := filterCondition(filter)
	if hasCond {
		builder = builder.WithFilter(cond)
	}
	if filter.AccountID != "" {
		builder = builder.WithKeyCondition(expression.Key(attrAccount).Equal(expression.Value(filter.AccountID)))
	}

	var pages interface {
		HasMorePages() bool
	}
	var next func(context.Context) ([]map[string]types.AttributeValue, error)

	switch {
	case filter.AccountID != "":
		expr, err := builder.Build()
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInternal, "build ledger query", err)
		}
		p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
			TableName:                 aws.String(r.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ConsistentRead:            aws.Bool(true),
		})
		pages = p
		next = func(ctx context.Context) ([]map[string]types.AttributeValue, error) {
			out, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			return out.Items, nil
		}
	default:
		input := &dynamodb.ScanInput{TableName: aws.String(r.table), ConsistentRead: aws.Bool(true)}
		if hasCond {
			expr, err := builder.Build()
			if err != nil {
				return nil, domain.WrapError(domain.ErrCodeInternal, "build ledger scan", err)
			}
			input.FilterExpression = expr.Filter()
			input.ExpressionAttributeNames = expr.Names()
			input.ExpressionAttributeValues = expr.Values()
		}
		p := dynamodb.NewScanPaginator(r.client, input)
		pages = p
		next = func(ctx context.Context) ([]map[string]types.AttributeValue, error) {
			out, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			return out.Items, nil
		}
	}

	var out []domain.LedgerRecord
	for pages.HasMorePages() {
		items, err := next(ctx)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInternal, "scan ledger", err)
		}
		for _, raw := range items {
			var stored item
			if err := attributevalue.UnmarshalMap(raw, &stored); err != nil {
				return nil, domain.WrapError(domain.ErrCodeInternal, "decode ledger row", err)
			}
			record, err := fromItem(stored)
			if err != nil {
				return nil, domain.WrapError(domain.ErrCodeInternal, "decode ledger row", err)
			}
			// The in-memory filter is authoritative.
			if filter.Match(record) {
				out = append(out, *record)
			}
		}
	}
	return out, nil
}

func filterCondition(filter repository.LedgerFilter) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if filter.InactiveOnly {
		conds = append(conds, isSet(attrInactiveAt))
	}
	if filter.ActiveOnly {
		conds = append(conds, isUnset(attrInactiveAt))
	}
	if filter.ExcludeDeleted {
		conds = append(conds, isUnset(attrDeleteAt))
	}
	if filter.DeletedOnly {
		conds = append(conds, isSet(attrDeleteAt))
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

func isSet(attr string) expression.ConditionBuilder {
	return expression.Name(attr).AttributeExists().And(expression.Name(attr).NotEqual(expression.Value("")))
}

func isUnset(attr string) expression.ConditionBuilder {
	return expression.Name(attr).AttributeNotExists().Or(expression.Name(attr).Equal(expression.Value("")))
}

func itemKey(key domain.RecordKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrAccount:  &types.AttributeValueMemberS{Value: key.AccountID},
		attrUsername: &types.AttributeValueMemberS{Value: key.Username},
	}
}
