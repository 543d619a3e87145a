package api

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rowkeeper/internal/aspects"
	"github.com/solatis/rowkeeper/internal/types"
)

// PlanPatch splits a record-level JSON Patch into per-aspect patches.
// Request: {patch: [ops]}. Response: {aspects: {id: [ops]}, order: [ids]}.
func (s *RecordService) PlanPatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := fieldJSON(req, "patch")
	if err != nil {
		return nil, err
	}
	ops, err := aspects.ParsePatch(data)
	if err != nil {
		return nil, invalidArgument("patch: %v", err)
	}

	patches, err := aspects.SplitPatch(ops)
	switch {
	case errors.Is(err, types.ErrCrossNamespaceOperation):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, invalidArgument("patch: %v", err)
	}

	byAspect := make(map[string]*structpb.Value, len(patches))
	order := make([]*structpb.Value, len(patches))
	for i, p := range patches {
		encoded, err := json.Marshal(p.Operations)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		v, err := jsonValue(encoded)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		byAspect[p.AspectID] = v
		order[i] = structpb.NewStringValue(p.AspectID)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"aspects": structpb.NewStructValue(&structpb.Struct{Fields: byAspect}),
		"order":   structpb.NewListValue(&structpb.ListValue{Values: order}),
	}}, nil
}
