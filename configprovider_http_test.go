package godcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfigProvider(t *testing.T, server *httptest.Server, resolution string, seedHosts []string) *ConfigProviderHttp {
	provider, err := NewConfigProviderHttp(&ConfigProviderHttpConfig{
		HttpRoundTripper:  http.DefaultTransport,
		Endpoints:         []string{server.URL},
		UserAgent:         "godcp test",
		Username:          "Administrator",
		Password:          "password",
		BucketName:        "default",
		SeedHosts:         seedHosts,
		NetworkResolution: resolution,
		ReconnectDelay:    FixedBackoff(10 * time.Millisecond),
	}, &ConfigProviderHttpOptions{})
	require.NoError(t, err)
	return provider
}

func recvConfig(t *testing.T, ch <-chan *ParsedConfig) *ParsedConfig {
	select {
	case config, ok := <-ch:
		require.True(t, ok, "config channel closed unexpectedly")
		return config
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config")
		return nil
	}
}

func TestConfigProviderHttpEmitsMonotoneRevs(t *testing.T) {
	body := "{\"rev\":1,\"nodesExt\":[{\"services\":{\"kv\":11210,\"mgmt\":8091}}]}\n\n\n\n" +
		"{\"rev\":1,\"nodesExt\":[{\"services\":{\"kv\":11210,\"mgmt\":8091}}]}\n\n\n\n" +
		"{\"rev\":2,\"nodesExt\":[{\"services\":{\"kv\":11210,\"mgmt\":8091}}]}\n\n\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pools/default/bs/default", r.URL.Path)

		username, password, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "Administrator", username)
		assert.Equal(t, "password", password)

		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	provider := newTestConfigProvider(t, server, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configCh := provider.Watch(ctx)

	config := recvConfig(t, configCh)
	assert.Equal(t, int64(1), config.RevID)

	// the replayed rev=1 must be dropped; the next emission is rev=2
	config = recvConfig(t, configCh)
	assert.Equal(t, int64(2), config.RevID)
}

func TestConfigProviderHttpSubstitutesHost(t *testing.T) {
	body := "{\"rev\":4,\"nodesExt\":[{\"hostname\":\"$HOST\",\"services\":{\"kv\":11210,\"mgmt\":8091}}]}\n\n\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	provider := newTestConfigProvider(t, server, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := recvConfig(t, provider.Watch(ctx))
	require.Len(t, config.Nodes, 1)

	host, _, err := splitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, host, config.Nodes[0].Addresses.Hostname)
}

func TestConfigProviderHttpSurvivesParseFailures(t *testing.T) {
	body := "this is not json\n\n\n\n{\"rev\":9,\"nodesExt\":[{\"services\":{\"kv\":11210}}]}\n\n\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	provider := newTestConfigProvider(t, server, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := recvConfig(t, provider.Watch(ctx))
	assert.Equal(t, int64(9), config.RevID)
}

func TestConfigProviderHttpSelectsNetworkOnce(t *testing.T) {
	body := "{\"rev\":1,\"nodesExt\":[{\"hostname\":\"10.0.0.1\",\"services\":{\"kv\":11210,\"mgmt\":8091}," +
		"\"alternateAddresses\":{\"external\":{\"hostname\":\"ext.example.com\",\"ports\":{\"kv\":31210,\"mgmt\":38091}}}}]}\n\n\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	provider := newTestConfigProvider(t, server, NetworkResolutionAuto, []string{"ext.example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = recvConfig(t, provider.Watch(ctx))
	assert.Equal(t, "external", provider.NetworkType())
}

func TestConfigProviderHttpAdvancesPastFailedEndpoints(t *testing.T) {
	body := "{\"rev\":3,\"nodesExt\":[{\"services\":{\"kv\":11210}}]}\n\n\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	provider, err := NewConfigProviderHttp(&ConfigProviderHttpConfig{
		HttpRoundTripper: http.DefaultTransport,
		Endpoints: []string{
			// closed port; the sweep must advance to the live server
			fmt.Sprintf("http://%s", "127.0.0.1:1"),
			server.URL,
		},
		UserAgent:      "godcp test",
		BucketName:     "default",
		ReconnectDelay: FixedBackoff(10 * time.Millisecond),
	}, &ConfigProviderHttpOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := recvConfig(t, provider.Watch(ctx))
	assert.Equal(t, int64(3), config.RevID)
}
