package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gowebpki/jcs"
	"github.com/solatis/rowkeeper/internal/types"
)

// Engine turns policy decisions into record filters. Immutable after
// construction and safe for concurrent use.
type Engine struct {
	prefixes Prefixes
	sql      SQLConfig
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrefixes replaces DefaultPrefixes.
func WithPrefixes(prefixes []string) Option {
	return func(e *Engine) {
		e.prefixes = NewPrefixes(prefixes)
	}
}

// WithLogger sets the logger for warnings and compile failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine emitting SQL per cfg.
func NewEngine(cfg SQLConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		prefixes: NewPrefixes(DefaultPrefixes),
		sql:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dialect returns the SQL dialect of emitted fragments.
func (e *Engine) Dialect() Dialect {
	return e.sql.Dialect
}

// SQLConfig returns the identifiers fragments are rendered against.
func (e *Engine) SQLConfig() SQLConfig {
	return e.sql
}

// Compile compiles a decision with the engine's prefixes.
func (e *Engine) Compile(decision *types.AuthDecision) ([]PredicateGroup, error) {
	e.logWarnings(decision)
	groups, err := CompileDecision(decision, e.prefixes)
	if err != nil {
		e.logFailure(decision, err)
		return nil, err
	}
	return groups, nil
}

// Filter compiles a decision into a SQL fragment. ok is false when the
// decision is unconditionally true and no filter applies; the fragment is
// then the literal TRUE. Any error means access must be denied.
func (e *Engine) Filter(decision *types.AuthDecision) (frag Fragment, ok bool, err error) {
	groups, err := e.Compile(decision)
	if err != nil {
		return Fragment{}, false, err
	}

	frag, err = Render(groups, e.sql)
	if err != nil {
		e.logFailure(decision, err)
		return Fragment{}, false, err
	}
	return frag, !unconditional(groups), nil
}

// Allows evaluates a decision against a single record in memory.
func (e *Engine) Allows(decision *types.AuthDecision, record *types.Record) (bool, error) {
	groups, err := e.Compile(decision)
	if err != nil {
		return false, err
	}
	return Evaluate(groups, record)
}

func (e *Engine) logWarnings(decision *types.AuthDecision) {
	if decision == nil || !decision.HasWarns {
		return
	}
	e.logger.Warn("policy decision carries warnings",
		"warnings", decision.Warnings,
		"fingerprint", Fingerprint(decision))
}

func (e *Engine) logFailure(decision *types.AuthDecision, err error) {
	attrs := []any{
		"error", err,
		"fingerprint", Fingerprint(decision),
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		attrs = append(attrs, "rule", ce.Rule, "expression", ce.Expression, "operator", ce.Operator)
	}
	e.logger.Error("failed to compile decision, denying", attrs...)

	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		raw, _ := json.Marshal(decision)
		e.logger.Debug("rejected decision", "decision", string(raw))
	}
}

// Fingerprint returns the hex SHA-256 of the decision's canonical (RFC 8785)
// JSON encoding. Equal decisions have equal fingerprints regardless of key
// order. Returns "" if the decision cannot be encoded.
func Fingerprint(decision *types.AuthDecision) string {
	raw, err := json.Marshal(decision)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
