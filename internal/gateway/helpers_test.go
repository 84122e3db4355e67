package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/internal/history"
	"github.com/flemzord/chatpilot/internal/provider"
	"gopkg.in/yaml.v3"
)

// fakeBackend implements provider.Provider and provider.HealthChecker.
type fakeBackend struct {
	model     string
	window    int
	healthErr error
}

func (f *fakeBackend) Complete(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return provider.CompletionResponse{}, errors.New("not implemented")
}

func (f *fakeBackend) Stream(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) ContextWindowSize() int { return f.window }
func (f *fakeBackend) ModelName() string      { return f.model }

func (f *fakeBackend) HealthCheck(context.Context) error { return f.healthErr }

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) ReloadConfig() error {
	f.calls++
	return f.err
}

type testEnv struct {
	gateway  *Gateway
	registry *history.Registry
	backend  *fakeBackend
	reloader *fakeReloader
	server   *httptest.Server
}

// newTestEnv builds a provisioned Gateway with fake collaborators and a
// test server over its router. Start is not called; no real listener is
// opened.
func newTestEnv(t *testing.T, configYAML string) *testEnv {
	t.Helper()

	env := &testEnv{
		registry: history.NewRegistry(history.Config{}),
		backend:  &fakeBackend{model: "test-model", window: 8192},
		reloader: &fakeReloader{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := core.NewAppContext(logger, t.TempDir())
	appCtx.RegisterService(registryServiceName, env.registry)
	appCtx.RegisterService(backendServiceName, env.backend)
	appCtx.RegisterService(reloaderServiceName, env.reloader)
	appCtx.RegisterService(bridgeServiceName, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	g := &Gateway{}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(configYAML), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if err := g.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	g.resolveServices()
	g.startedAt = time.Now()

	env.gateway = g
	env.server = httptest.NewServer(g.buildRouter())
	t.Cleanup(env.server.Close)
	return env
}

const authedConfig = `
bind: "127.0.0.1:0"
auth:
  bearer_token: "admin-token"
`

// get performs a request with optional bearer auth and returns the response.
func doRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
