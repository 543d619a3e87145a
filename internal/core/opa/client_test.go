package opa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries uint) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:          srv.URL,
		DecisionPath: "/v0/opa/decision",
		Timeout:      2 * time.Second,
		MaxRetries:   retries,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestDecide(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"hasResidualRules":true,"residualRules":[{"default":false,"value":true,"fullName":"data.partial.object.record.read","name":"read",
			"expressions":[{"negated":false,"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.owner"},{"isRef":false,"value":"u1"}]}]}],
			"hasWarns":false}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	d, err := c.Decide(context.Background(), Request{
		Operation: "object/record/read",
		Input:     map[string]any{"user": map[string]any{"id": "u1"}},
		Unknowns:  []string{"input.object.record"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v0/opa/decision/object/record/read", gotPath)
	assert.Equal(t, "concise", gotBody["rulesFormat"])
	assert.Equal(t, []any{"input.object.record"}, gotBody["unknowns"])
	assert.Equal(t, map[string]any{"user": map[string]any{"id": "u1"}}, gotBody["input"])

	require.True(t, d.HasResidualRules)
	require.Len(t, d.ResidualRules, 1)
	assert.Equal(t, "read", d.ResidualRules[0].Name)
	assert.Equal(t, "u1", d.ResidualRules[0].Expressions[0].Operands[1].Value)
}

func TestDecide_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"hasResidualRules":false,"result":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	d, err := c.Decide(context.Background(), Request{Operation: "object/record/read"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, true, d.Result)
}

func TestDecide_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	_, err := c.Decide(context.Background(), Request{Operation: "object/record/read"})
	assert.True(t, errors.Is(err, ErrPolicyUnavailable), "error = %v", err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDecide_ClientErrorsArePermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such policy", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.Decide(context.Background(), Request{Operation: "object/record/read"})
	assert.ErrorIs(t, err, ErrPolicyRejected)
	assert.Contains(t, err.Error(), "no such policy")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecide_InvalidDocument(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"hasResidualRules": tru`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.Decide(context.Background(), Request{Operation: "object/record/read"})
	assert.ErrorIs(t, err, ErrInvalidDecision)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecide_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv, 5)
	_, err := c.Decide(ctx, Request{Operation: "object/record/read"})
	assert.Error(t, err)
}

func TestEndpoint(t *testing.T) {
	c, err := NewClient(Config{URL: "http://opa:8181/", DecisionPath: "v1/data/"}, nil)
	require.NoError(t, err)

	got, err := c.endpoint("/object//record/read me")
	require.NoError(t, err)
	assert.Equal(t, "http://opa:8181/v1/data/object/record/read%20me", got)

	_, err = c.endpoint("//")
	assert.Error(t, err)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}
