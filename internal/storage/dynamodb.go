package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/livestats/internal/source"
	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/rs/zerolog"
)

const (
	catalogKindAgent   = "agent"
	catalogKindProject = "project"

	defaultMaxRangeDays = 366
)

// DynamoSource reads statistics directly from the upstream DynamoDB tables.
// It never writes.
type DynamoSource struct {
	client dynamodb.QueryAPIClient
	config DynamoConfig
	logger zerolog.Logger
}

var _ source.Source = (*DynamoSource)(nil)

// NewDynamoSource connects to DynamoDB according to cfg
func NewDynamoSource(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client *dynamodb.Client
	if cfg.Mode == DynamoModeLocal {
		// LoadDefaultConfig probes the EC2 IMDS endpoint, which hangs when
		// static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB source initialized")

	return NewDynamoSourceWithClient(client, cfg, logger), nil
}

// NewDynamoSourceWithClient wraps an existing query client
func NewDynamoSourceWithClient(client dynamodb.QueryAPIClient, cfg DynamoConfig, logger zerolog.Logger) *DynamoSource {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = defaultMaxRangeDays
	}
	return &DynamoSource{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "dynamo-source").Logger(),
	}
}

// FetchStats queries the daily stats of every filtered agent within the
// date window, keeping only the filtered projects.
func (s *DynamoSource) FetchStats(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error) {
	from, to, err := s.window(filters)
	if err != nil {
		return nil, &source.FetchError{Op: "stats", Err: err}
	}

	var rows []types.StatRow
	for _, agentID := range filters.Agents() {
		keyCond := expression.Key(attrAgentID).Equal(expression.Value(agentID)).
			And(expression.Key(attrSortKey).Between(expression.Value(from+"#"), expression.Value(to+"#\uffff")))
		builder := expression.NewBuilder().WithKeyCondition(keyCond)
		if filter, ok := inFilter("ProjectID", filters.Projects()); ok {
			builder = builder.WithFilter(filter)
		}

		var page []types.StatRow
		if err := s.query(ctx, s.config.StatsTable, builder, &page); err != nil {
			return nil, &source.FetchError{Op: "stats", Err: fmt.Errorf("failed to query stats for agent %s: %w", agentID, err)}
		}
		rows = append(rows, page...)
	}

	s.logger.Debug().Int("rows", len(rows)).Msg("stats queried")
	return rows, nil
}

// FetchCallRecords queries the call records of each day in the window
func (s *DynamoSource) FetchCallRecords(ctx context.Context, filters types.FilterSet) ([]types.RawCallRecord, error) {
	from, to, err := s.window(filters)
	if err != nil {
		return nil, &source.FetchError{Op: "calls", Err: err}
	}
	days, err := expandDays(from, to, s.config.MaxRangeDays)
	if err != nil {
		return nil, &source.FetchError{Op: "calls", Err: err}
	}

	var records []types.RawCallRecord
	for _, day := range days {
		keyCond := expression.Key(attrDateKey).Equal(expression.Value(day))
		builder := expression.NewBuilder().WithKeyCondition(keyCond)

		var conds []expression.ConditionBuilder
		if c, ok := inFilter("AgentID", filters.Agents()); ok {
			conds = append(conds, c)
		}
		if c, ok := inFilter("CampaignID", filters.Projects()); ok {
			conds = append(conds, c)
		}
		switch len(conds) {
		case 1:
			builder = builder.WithFilter(conds[0])
		case 2:
			builder = builder.WithFilter(conds[0].And(conds[1]))
		}

		var page []types.RawCallRecord
		if err := s.query(ctx, s.config.CallRecordsTable, builder, &page); err != nil {
			return nil, &source.FetchError{Op: "calls", Err: fmt.Errorf("failed to query call records for %s: %w", day, err)}
		}
		records = append(records, page...)
	}
	return records, nil
}

// FetchCatalog reads the agent and project partitions of the catalog table
func (s *DynamoSource) FetchCatalog(ctx context.Context) (types.Catalog, error) {
	var catalog types.Catalog
	for _, kind := range []string{catalogKindAgent, catalogKindProject} {
		builder := expression.NewBuilder().WithKeyCondition(expression.Key(attrKind).Equal(expression.Value(kind)))

		var entries []types.CatalogEntry
		if err := s.query(ctx, s.config.CatalogTable, builder, &entries); err != nil {
			return types.Catalog{}, &source.FetchError{Op: "catalog", Err: fmt.Errorf("failed to query %s catalog: %w", kind, err)}
		}
		if kind == catalogKindAgent {
			catalog.Agents = entries
		} else {
			catalog.Projects = entries
		}
	}
	return catalog, nil
}

// query runs a paginated query and unmarshals every item into out
func (s *DynamoSource) query(ctx context.Context, table string, builder expression.Builder, out any) error {
	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var items []map[string]dbtypes.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return nil
}

// window resolves the filter bounds. A missing bound collapses onto the other.
func (s *DynamoSource) window(filters types.FilterSet) (string, string, error) {
	from, to := filters.DateFrom, filters.DateTo
	switch {
	case from == "" && to == "":
		return "", "", fmt.Errorf("date range is required")
	case from == "":
		from = to
	case to == "":
		to = from
	}
	if from > to {
		return "", "", fmt.Errorf("dateFrom %s is after dateTo %s", from, to)
	}
	return from, to, nil
}

func expandDays(from, to string, max int) ([]string, error) {
	start, err := time.Parse(types.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid dateFrom: %w", err)
	}
	end, err := time.Parse(types.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid dateTo: %w", err)
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(days) == max {
			return nil, fmt.Errorf("date range exceeds %d days", max)
		}
		days = append(days, d.Format(types.DateLayout))
	}
	return days, nil
}

func inFilter(name string, ids []string) (expression.ConditionBuilder, bool) {
	var values []expression.OperandBuilder
	for _, id := range ids {
		if id != "" {
			values = append(values, expression.Value(id))
		}
	}
	switch len(values) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return expression.Name(name).Equal(values[0]), true
	default:
		return expression.Name(name).In(values[0], values[1:]...), true
	}
}
