package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	access func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	calls  int
	closed bool
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls++
	if f.access != nil {
		return f.access(ctx, req)
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte("value-for-" + req.Name)},
	}, nil
}

func (f *fakeSecretClient) Close() error {
	f.closed = true
	return nil
}

func newTestFetcher(t *testing.T, client secretManagerClient, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{
		WithSecretManagerClient(client),
		WithFallbackFile(""),
		WithDefaultProject("demo"),
	}, opts...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func TestResolveFullResourcePath(t *testing.T) {
	client := &fakeSecretClient{}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.Resolve(context.Background(), "secret://projects/demo/secrets/briq-key/versions/3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasSuffix(value, "projects/demo/secrets/briq-key/versions/3") {
		t.Fatalf("value = %q", value)
	}
}

func TestResolveBareNameUsesDefaultProject(t *testing.T) {
	var requested string
	client := &fakeSecretClient{
		access: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			requested = req.Name
			return &secretmanagerpb.AccessSecretVersionResponse{
				Payload: &secretmanagerpb.SecretPayload{Data: []byte("s3cr3t")},
			}, nil
		},
	}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.Resolve(context.Background(), "sm://webhook-secret?version=2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "s3cr3t" {
		t.Fatalf("value = %q", value)
	}
	if requested != "projects/demo/secrets/webhook-secret/versions/2" {
		t.Fatalf("requested = %q", requested)
	}
}

func TestResolveCachesValues(t *testing.T) {
	client := &fakeSecretClient{}
	fetcher := newTestFetcher(t, client)

	ref := "secret://projects/demo/secrets/api-key/versions/latest"
	for i := 0; i < 3; i++ {
		if _, err := fetcher.Resolve(context.Background(), ref); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("remote calls = %d, want 1", client.calls)
	}

	fetcher.Invalidate(ref)
	if _, err := fetcher.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("remote calls = %d, want 2", client.calls)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "secret://projects/demo/secrets/briq-key/versions/latest=local-value\nplain-key=plain-value\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := &fakeSecretClient{
		access: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "nope")
		},
	}
	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://projects/demo/secrets/briq-key/versions/latest")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "local-value" {
		t.Fatalf("value = %q, want local-value", value)
	}
}

func TestResolveSurfacesHardErrors(t *testing.T) {
	client := &fakeSecretClient{
		access: func(context.Context, *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.NotFound, "missing")
		},
	}
	fetcher := newTestFetcher(t, client)

	if _, err := fetcher.Resolve(context.Background(), "secret://projects/demo/secrets/gone/versions/latest"); err == nil {
		t.Fatal("expected error for NotFound")
	}
}

func TestParseReferenceRejectsMalformedInput(t *testing.T) {
	fetcher := newTestFetcher(t, &fakeSecretClient{})

	cases := []string{
		"",
		"http://projects/demo/secrets/x",
		"secret://projects/demo/secrets",
		"secret://a/b",
	}
	for _, ref := range cases {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Errorf("Resolve(%q): expected error", ref)
		}
	}
}

func TestBareReferenceRequiresDefaultProject(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(&fakeSecretClient{}),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(context.Background(), "secret://bare-name"); err == nil {
		t.Fatal("expected error without default project")
	}
}

func TestCloseReleasesOwnedClient(t *testing.T) {
	client := &fakeSecretClient{}
	fetcher := newTestFetcher(t, client)
	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Injected clients stay under caller control.
	if client.closed {
		t.Fatal("injected client should not be closed by the fetcher")
	}
}

func TestFallbackOnlyModeWithoutClient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://projects/demo/secrets/k/versions/latest=v\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher := &Fetcher{
		logger:       zap.NewNop(),
		fallbackPath: path,
		cache:        make(map[string]cacheEntry),
	}

	value, err := fetcher.Resolve(context.Background(), "secret://projects/demo/secrets/k/versions/latest")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "v" {
		t.Fatalf("value = %q", value)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://projects/demo/secrets/absent/versions/latest"); err == nil {
		t.Fatal("expected error for absent fallback value")
	}
}
