package api

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/core/auth"
	"github.com/solatis/rowkeeper/internal/core/db"
	"github.com/solatis/rowkeeper/internal/core/opa"
	"github.com/solatis/rowkeeper/internal/types"
)

// ListRecords returns the caller's records that the policy allows.
// Request: {operation?, limit?, offset?}. Response: {records, filtered}.
// The decision is requested for the authenticated user; any failure to
// compile it denies the whole listing.
func (s *RecordService) ListRecords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal := auth.PrincipalFromContext(ctx)
	if principal == nil || principal.TenantID == "" {
		return nil, status.Error(codes.Internal, "missing tenant_id in context")
	}

	operation, err := stringField(req, "operation")
	if err != nil {
		return nil, err
	}
	if operation == "" {
		operation = s.opts.Operation
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := intField(req, "offset")
	if err != nil {
		return nil, err
	}

	decision, err := s.decide(ctx, principal, operation)
	if err != nil {
		return nil, err
	}

	frag, filtered, err := s.engine.Filter(decision)
	if err != nil {
		// Engine already logged the rule and fingerprint.
		return nil, statusFromError(err)
	}

	var filter *authz.Fragment
	if filtered {
		filter = &frag
	}

	records, err := s.records.ListRecords(ctx, principal.TenantID, filter, db.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("record listing failed", "tenant_id", principal.TenantID, "error", err)
		return nil, statusFromError(err)
	}

	items := make([]*structpb.Value, 0, len(records))
	for _, rec := range records {
		v, err := recordValue(rec)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		items = append(items, v)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"records":  structpb.NewListValue(&structpb.ListValue{Values: items}),
		"filtered": structpb.NewBoolValue(filtered),
	}}, nil
}

// decide requests the caller's decision for operation. Errors are already
// mapped to a status.
func (s *RecordService) decide(ctx context.Context, principal *auth.Principal, operation string) (*types.AuthDecision, error) {
	decision, err := s.decider.Decide(ctx, opa.Request{
		Operation: operation,
		Input: map[string]any{
			"operationUri": operation,
			"user":         map[string]any{"id": principal.UserID},
			"tenant":       map[string]any{"id": string(principal.TenantID)},
		},
		Unknowns: s.opts.Unknowns,
	})
	if err != nil {
		s.logger.Warn("decision request failed", "operation", operation, "tenant_id", principal.TenantID, "error", err)
		return nil, statusFromError(err)
	}
	return decision, nil
}
