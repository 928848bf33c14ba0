package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeManagerClient struct {
	accessFn func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	calls    int
}

func (f *fakeManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls++
	if f.accessFn == nil {
		return nil, status.Error(codes.NotFound, "no fixture")
	}
	return f.accessFn(ctx, req)
}

func (f *fakeManagerClient) Close() error { return nil }

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("secret://webhook-shared-secret"))
	assert.True(t, IsReference("  secret://bank-account?version=3"))
	assert.False(t, IsReference("hunter2"))
	assert.False(t, IsReference(""))
}

func TestResolveFetchesAndCaches(t *testing.T) {
	client := &fakeManagerClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			require.Equal(t, "projects/storefront-prod/secrets/webhook-shared-secret/versions/latest", req.Name)
			return payload("s3cr3t"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithProject("storefront-prod"),
		WithManagerClient(client),
		WithFallbackFile(""),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })

	value, err := fetcher.Resolve(context.Background(), "secret://webhook-shared-secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)

	value, err = fetcher.Resolve(context.Background(), "secret://webhook-shared-secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)
	assert.Equal(t, 1, client.calls)
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	client := &fakeManagerClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			require.Equal(t, "projects/other-proj/secrets/bank-account/versions/7", req.Name)
			return payload("013-558812"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithProject("storefront-prod"),
		WithManagerClient(client),
		WithFallbackFile(""),
	)
	require.NoError(t, err)

	value, err := fetcher.Resolve(context.Background(), "secret://bank-account?version=7&project=other-proj")
	require.NoError(t, err)
	assert.Equal(t, "013-558812", value)
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.local")
	contents := "# local overrides\nwebhook-shared-secret=local-value\nsecret://bank-account?version=2=acct-2\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	client := &fakeManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "denied")
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithProject("storefront-prod"),
		WithManagerClient(client),
		WithFallbackFile(path),
	)
	require.NoError(t, err)

	value, err := fetcher.Resolve(context.Background(), "secret://webhook-shared-secret")
	require.NoError(t, err)
	assert.Equal(t, "local-value", value)

	value, err = fetcher.Resolve(context.Background(), "secret://bank-account?version=2")
	require.NoError(t, err)
	assert.Equal(t, "acct-2", value)
}

func TestResolveSurfacesNonFallbackErrors(t *testing.T) {
	client := &fakeManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.NotFound, "missing")
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithProject("storefront-prod"),
		WithManagerClient(client),
		WithFallbackFile(""),
	)
	require.NoError(t, err)

	_, err = fetcher.Resolve(context.Background(), "secret://does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(),
		WithManagerClient(&fakeManagerClient{}),
		WithFallbackFile(""),
	)
	require.NoError(t, err)

	_, err = fetcher.Resolve(context.Background(), "")
	require.Error(t, err)

	_, err = fetcher.Resolve(context.Background(), "vault://thing")
	require.Error(t, err)

	_, err = fetcher.Resolve(context.Background(), "secret://")
	require.Error(t, err)
}

func TestMaybeResolvePassesLiteralsThrough(t *testing.T) {
	client := &fakeManagerClient{
		accessFn: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return payload("resolved"), nil
		},
	}

	fetcher, err := NewFetcher(context.Background(),
		WithProject("storefront-prod"),
		WithManagerClient(client),
		WithFallbackFile(""),
	)
	require.NoError(t, err)

	value, err := fetcher.MaybeResolve(context.Background(), "plain-literal")
	require.NoError(t, err)
	assert.Equal(t, "plain-literal", value)
	assert.Zero(t, client.calls)

	value, err = fetcher.MaybeResolve(context.Background(), "secret://webhook-shared-secret")
	require.NoError(t, err)
	assert.Equal(t, "resolved", value)
}
