package api

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rowkeeper/internal/types"
)

// CompileFilter compiles a caller-supplied decision for the store dialect.
// Request: {decision}. Response: {sql, args, filtered, dialect}.
func (s *RecordService) CompileFilter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := fieldJSON(req, "decision")
	if err != nil {
		return nil, err
	}
	decision, err := types.ParseDecision(data)
	if err != nil {
		return nil, invalidArgument("decision: %v", err)
	}

	frag, filtered, err := s.engine.Filter(decision)
	if err != nil {
		return nil, statusFromError(err)
	}

	args := make([]*structpb.Value, len(frag.Args))
	for i, arg := range frag.Args {
		v, err := argValue(arg)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "arg %d: %v", i+1, err)
		}
		args[i] = v
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"sql":      structpb.NewStringValue(frag.SQL),
		"args":     structpb.NewListValue(&structpb.ListValue{Values: args}),
		"filtered": structpb.NewBoolValue(filtered),
		"dialect":  structpb.NewStringValue(s.engine.Dialect().String()),
	}}, nil
}
