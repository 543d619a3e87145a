package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/rowkeeper/internal/core/db"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecrets = map[string][]byte{
	testSecretID: []byte("0123456789abcdef0123456789abcdef"),
}

type fakeKeyStore struct {
	keys    map[string]*db.APIKey
	err     error
	touched []string
}

func (f *fakeKeyStore) GetAPIKeyByHash(_ context.Context, keyHash []byte) (*db.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	key, ok := f.keys[string(keyHash)]
	if !ok {
		return nil, db.ErrAPIKeyNotFound
	}
	return key, nil
}

func (f *fakeKeyStore) TouchAPIKey(_ context.Context, keyID string) error {
	f.touched = append(f.touched, keyID)
	return nil
}

func issue(t *testing.T, store *fakeKeyStore, row db.APIKey) string {
	t.Helper()
	key, hash, err := GenerateAPIKey(testSecrets)
	require.NoError(t, err)
	if store.keys == nil {
		store.keys = map[string]*db.APIKey{}
	}
	store.keys[string(hash)] = &row
	return key
}

func TestAuthenticate(t *testing.T) {
	store := &fakeKeyStore{}
	good := issue(t, store, db.APIKey{ID: "k1", TenantID: "t1", UserID: "u1"})
	recent := issue(t, store, db.APIKey{ID: "k2", TenantID: "t1", UserID: "u2",
		LastUsedAt: sql.NullTime{Time: time.Now(), Valid: true}})
	revoked := issue(t, store, db.APIKey{ID: "k3", TenantID: "t1", UserID: "u3",
		RevokedAt: sql.NullTime{Time: time.Now(), Valid: true}})

	a := NewAuthenticator(testSecrets, store, nil)
	ctx := context.Background()

	p, err := a.Authenticate(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, &Principal{KeyID: "k1", TenantID: "t1", UserID: "u1"}, p)

	_, err = a.Authenticate(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, store.touched, "recent use is throttled")

	_, err = a.Authenticate(ctx, revoked)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	unknownHash := FormatAPIKey(testSecretID, strings.Repeat("ab", 32))
	_, err = a.Authenticate(ctx, unknownHash)
	assert.ErrorIs(t, err, ErrInvalidKey)

	otherSecret := FormatAPIKey(strings.Repeat("f", 32), strings.Repeat("ab", 32))
	_, err = a.Authenticate(ctx, otherSecret)
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = a.Authenticate(ctx, "tk-v1-x-y")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)

	store.err = errors.New("connection refused")
	_, err = a.Authenticate(ctx, good)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestUnaryInterceptor(t *testing.T) {
	store := &fakeKeyStore{}
	good := issue(t, store, db.APIKey{ID: "k1", TenantID: "t1", UserID: "u1"})
	revoked := issue(t, store, db.APIKey{ID: "k2", TenantID: "t1",
		RevokedAt: sql.NullTime{Time: time.Now(), Valid: true}})

	interceptor := NewAuthenticator(testSecrets, store, nil).UnaryInterceptor("/grpc.health.v1.Health/Check")

	var seen *Principal
	handler := func(ctx context.Context, req any) (any, error) {
		seen = PrincipalFromContext(ctx)
		return "ok", nil
	}
	call := func(ctx context.Context, method string) error {
		seen = nil
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
		return err
	}
	withKey := func(key string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", key))
	}

	tests := []struct {
		name   string
		ctx    context.Context
		method string
		want   codes.Code
	}{
		{"valid key", withKey(good), "/rowkeeper.records.v1.RecordService/ListRecords", codes.OK},
		{"no metadata", context.Background(), "/rowkeeper.records.v1.RecordService/ListRecords", codes.Unauthenticated},
		{"no key", metadata.NewIncomingContext(context.Background(), metadata.Pairs()), "/x/Y", codes.Unauthenticated},
		{"bad key", withKey("nope"), "/x/Y", codes.Unauthenticated},
		{"revoked", withKey(revoked), "/x/Y", codes.PermissionDenied},
		{"skipped method", context.Background(), "/grpc.health.v1.Health/Check", codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := call(tt.ctx, tt.method)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}

	require.NoError(t, call(withKey(good), "/x/Y"))
	require.NotNil(t, seen)
	assert.Equal(t, "t1", string(TenantIDFromContext(WithPrincipal(context.Background(), seen))))

	store.err = errors.New("down")
	assert.Equal(t, codes.Unavailable, status.Code(call(withKey(good), "/x/Y")))
}

func TestTenantIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, TenantIDFromContext(context.Background()))
	assert.Nil(t, PrincipalFromContext(context.Background()))
}
