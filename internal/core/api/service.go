// Package api provides the gRPC record service for rowkeeper.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/core/db"
	"github.com/solatis/rowkeeper/internal/core/opa"
	"github.com/solatis/rowkeeper/internal/types"
)

// Decider fetches partial-evaluation decisions. Implemented by *opa.Client.
type Decider interface {
	Decide(ctx context.Context, req opa.Request) (*types.AuthDecision, error)
}

// RecordReader runs authorized reads. Implemented by *db.RecordStore.
type RecordReader interface {
	ListRecords(ctx context.Context, tenant types.TenantID, filter *authz.Fragment, page db.Page) ([]types.Record, error)
	GetRecord(ctx context.Context, tenant types.TenantID, id types.RecordID) (*types.Record, error)
}

// Options configures decision requests.
type Options struct {
	// Operation is requested when a ListRecords call names none.
	Operation string
	// Unknowns are sent with every decision request.
	Unknowns []string
}

// RecordService implements RecordServer.
// Thin orchestration layer delegating to opa, authz, aspects and db packages.
type RecordService struct {
	decider Decider
	engine  *authz.Engine
	records RecordReader
	opts    Options
	logger  *slog.Logger
}

// NewRecordService creates service instance with dependencies.
func NewRecordService(decider Decider, engine *authz.Engine, records RecordReader, opts Options, logger *slog.Logger) (*RecordService, error) {
	if decider == nil {
		return nil, fmt.Errorf("decider cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if records == nil {
		return nil, fmt.Errorf("records cannot be nil")
	}
	if opts.Operation == "" {
		return nil, fmt.Errorf("operation cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RecordService{
		decider: decider,
		engine:  engine,
		records: records,
		opts:    opts,
		logger:  logger,
	}, nil
}

var _ RecordServer = (*RecordService)(nil)
