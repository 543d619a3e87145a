package api

import (
	"database/sql/driver"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rowkeeper/internal/types"
)

// stringField reads an optional string field.
func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalidArgument("%s must be a string", key)
	}
	return sv.StringValue, nil
}

// intField reads an optional non-negative integer field.
func intField(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, invalidArgument("%s must be a number", key)
	}
	n := nv.NumberValue
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, invalidArgument("%s must be a non-negative integer", key)
	}
	return int(n), nil
}

// fieldJSON re-encodes a required field as JSON for the domain parsers.
func fieldJSON(s *structpb.Struct, key string) ([]byte, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, invalidArgument("%s is required", key)
	}
	data, err := protojson.Marshal(v)
	if err != nil {
		return nil, invalidArgument("%s: %v", key, err)
	}
	return data, nil
}

// jsonValue decodes an arbitrary JSON document into a Value.
func jsonValue(data []byte) (*structpb.Value, error) {
	v := new(structpb.Value)
	if err := protojson.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func recordValue(rec types.Record) (*structpb.Value, error) {
	aspects := make(map[string]*structpb.Value, len(rec.Aspects))
	for id, data := range rec.Aspects {
		v, err := jsonValue(data)
		if err != nil {
			return nil, fmt.Errorf("record %s aspect %s: %w", rec.ID, id, err)
		}
		aspects[id] = v
	}

	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":        structpb.NewStringValue(string(rec.ID)),
		"tenantId":  structpb.NewStringValue(string(rec.TenantID)),
		"name":      structpb.NewStringValue(rec.Name),
		"createdAt": structpb.NewStringValue(rec.CreatedAt.UTC().Format(time.RFC3339Nano)),
		"aspects":   structpb.NewStructValue(&structpb.Struct{Fields: aspects}),
	}}), nil
}

// argValue renders a bound SQL argument for display. Path arrays become
// lists; other driver values are converted first.
func argValue(arg any) (*structpb.Value, error) {
	switch a := arg.(type) {
	case *pq.StringArray:
		items := make([]any, len(*a))
		for i, s := range *a {
			items[i] = s
		}
		return structpb.NewValue(items)
	case driver.Valuer:
		v, err := a.Value()
		if err != nil {
			return nil, err
		}
		return structpb.NewValue(v)
	default:
		return structpb.NewValue(arg)
	}
}
