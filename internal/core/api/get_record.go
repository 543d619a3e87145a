package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rowkeeper/internal/core/auth"
	"github.com/solatis/rowkeeper/internal/types"
)

// GetRecord returns one record if the policy allows it.
// Request: {id, operation?}. Response: the record.
//
// The decision is evaluated against the loaded record in memory rather than
// compiled to SQL. A record the caller may not see is reported exactly like
// a missing one.
func (s *RecordService) GetRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal := auth.PrincipalFromContext(ctx)
	if principal == nil || principal.TenantID == "" {
		return nil, status.Error(codes.Internal, "missing tenant_id in context")
	}

	rawID, err := stringField(req, "id")
	if err != nil {
		return nil, err
	}
	id, err := types.ParseRecordID(rawID)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	operation, err := stringField(req, "operation")
	if err != nil {
		return nil, err
	}
	if operation == "" {
		operation = s.opts.Operation
	}

	decision, err := s.decide(ctx, principal, operation)
	if err != nil {
		return nil, err
	}

	rec, err := s.records.GetRecord(ctx, principal.TenantID, id)
	if errors.Is(err, types.ErrRecordNotFound) {
		return nil, status.Errorf(codes.NotFound, "record %s not found", id)
	}
	if err != nil {
		s.logger.Error("record lookup failed", "tenant_id", principal.TenantID, "record_id", id, "error", err)
		return nil, statusFromError(err)
	}

	allowed, err := s.engine.Allows(decision, rec)
	if err != nil {
		return nil, statusFromError(err)
	}
	if !allowed {
		s.logger.Debug("record hidden by policy", "tenant_id", principal.TenantID, "record_id", id, "operation", operation)
		return nil, status.Errorf(codes.NotFound, "record %s not found", id)
	}

	v, err := recordValue(*rec)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return v.GetStructValue(), nil
}
