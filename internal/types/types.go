// Package types provides domain models shared across rowkeeper components.
//
// Wire-format agnostic: the decision document types mirror the JSON shape
// returned by the policy engine, and the record types mirror the store
// schema. gRPC/structpb conversion happens at the API boundary.
package types

import (
	"encoding/json"
	"time"
)

// RecordID identifies a record within a tenant.
// String alias enables type safety while maintaining JSON string serialization.
type RecordID string

// TenantID identifies the tenant owning a record.
type TenantID string

// AspectData is the raw JSON document stored for one aspect of a record.
// json.RawMessage wrapper preserves original bytes for schema-agnostic storage.
type AspectData json.RawMessage

// MarshalJSON implements json.Marshaler.
func (a AspectData) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(a).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AspectData) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(a).UnmarshalJSON(data)
}

// Record is a row subject to authorization filtering. Aspects are keyed by
// aspect id; each aspect is an independent JSON document.
type Record struct {
	ID        RecordID              `json:"id"`
	TenantID  TenantID              `json:"tenantId"`
	Name      string                `json:"name"`
	CreatedAt time.Time             `json:"createdAt"`
	Aspects   map[string]AspectData `json:"aspects,omitempty"`
}

// Resource limits enforced by the compiler and store.
const (
	// MaxPathDepth bounds reference paths inside an aspect.
	// 16 levels handles deeply nested aspect documents without unbounded SQL.
	MaxPathDepth = 16

	// MaxResidualRules caps rule count per decision so a runaway policy
	// cannot produce an unbounded WHERE clause.
	MaxResidualRules = 1024

	// MaxAspectSize limits a single aspect document.
	// 1MB mirrors typical JSON document limits for row-stored blobs.
	MaxAspectSize = 1024 * 1024

	// MaxPageSize caps record listings.
	MaxPageSize = 1000

	// DefaultPageSize is used when a listing does not specify a limit.
	DefaultPageSize = 100

	// MaxIDLength bounds caller-supplied tenant and record ids.
	MaxIDLength = 255
)
