package godcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func altNetworkConfig() *ParsedConfig {
	return &ParsedConfig{
		RevID: 1,
		Nodes: []ParsedConfigNode{
			{
				HasData: true,
				Addresses: ParsedConfigAddresses{
					Hostname:    "10.0.0.1",
					NonSSLPorts: ParsedConfigServicePorts{Kv: 11210, Mgmt: 8091},
				},
				AltAddresses: map[string]ParsedConfigAddresses{
					"external": {
						Hostname:    "ext.example.com",
						NonSSLPorts: ParsedConfigServicePorts{Kv: 31210, Mgmt: 38091},
					},
				},
			},
		},
	}
}

func TestNetworkTypeHeuristicAutoSelectsAlternate(t *testing.T) {
	networkType := NetworkTypeHeuristic{}.Identify(
		altNetworkConfig(), NetworkResolutionAuto, []string{"ext.example.com"})
	assert.Equal(t, "external", networkType)
}

func TestNetworkTypeHeuristicAutoPrefersPrimary(t *testing.T) {
	networkType := NetworkTypeHeuristic{}.Identify(
		altNetworkConfig(), NetworkResolutionAuto, []string{"10.0.0.1"})
	assert.Equal(t, NetworkTypeDefault, networkType)
}

func TestNetworkTypeHeuristicAutoFallsBackToDefault(t *testing.T) {
	networkType := NetworkTypeHeuristic{}.Identify(
		altNetworkConfig(), NetworkResolutionAuto, []string{"unrelated.example.com"})
	assert.Equal(t, NetworkTypeDefault, networkType)
}

func TestNetworkTypeHeuristicNamedResolution(t *testing.T) {
	networkType := NetworkTypeHeuristic{}.Identify(
		altNetworkConfig(), NetworkResolutionExternal, nil)
	assert.Equal(t, "external", networkType)
}

func TestNetworkTypeHeuristicDefaultResolution(t *testing.T) {
	networkType := NetworkTypeHeuristic{}.Identify(
		altNetworkConfig(), NetworkResolutionDefault, []string{"ext.example.com"})
	assert.Equal(t, NetworkTypeDefault, networkType)
}

func TestNetworkTypeHeuristicMatchesIpv6Seeds(t *testing.T) {
	config := &ParsedConfig{
		Nodes: []ParsedConfigNode{
			{
				Addresses: ParsedConfigAddresses{Hostname: "0:0:0:0:0:0:0:1"},
			},
		},
	}

	networkType := NetworkTypeHeuristic{}.Identify(
		config, NetworkResolutionAuto, []string{"::1"})
	assert.Equal(t, NetworkTypeDefault, networkType)
}
