package storage

import "fmt"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode             DynamoMode
	Endpoint         string // for local mode
	Region           string
	StatsTable       string
	CallRecordsTable string
	CatalogTable     string
	MaxRangeDays     int
}

// ParseDynamoMode maps a config value onto a mode. Unknown values disable
// DynamoDB.
func ParseDynamoMode(s string) DynamoMode {
	switch mode := DynamoMode(s); mode {
	case DynamoModeLocal, DynamoModeAWS:
		return mode
	default:
		return DynamoModeNone
	}
}

// Validate checks that a DynamoDB-backed source can be built from cfg
func (c DynamoConfig) Validate() error {
	if c.Mode == DynamoModeNone {
		return fmt.Errorf("DYNAMO_MODE must be %q or %q", DynamoModeLocal, DynamoModeAWS)
	}
	if c.Region == "" {
		return fmt.Errorf("DYNAMO_REGION is required")
	}
	if c.StatsTable == "" || c.CallRecordsTable == "" || c.CatalogTable == "" {
		return fmt.Errorf("DynamoDB table names are required")
	}
	return nil
}
