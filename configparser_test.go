package godcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigParserParsesTerseConfig(t *testing.T) {
	raw := []byte(`{
		"rev": 1073,
		"name": "default",
		"uuid": "9x0",
		"nodeLocator": "vbucket",
		"nodesExt": [
			{"hostname": "node1.example.com", "services": {"kv": 11210, "mgmt": 8091, "kvSSL": 11207, "mgmtSSL": 18091}},
			{"services": {"kv": 11210, "mgmt": 8091}},
			{"hostname": "query.example.com", "services": {"mgmt": 8091}}
		],
		"vBucketServerMap": {
			"hashAlgorithm": "CRC",
			"numReplicas": 1,
			"serverList": ["node1.example.com:11210", "10.4.2.9:11210"],
			"vBucketMap": [[0,1],[1,0],[0,1],[1,0]]
		}
	}`)

	config, err := ConfigParser{}.ParseTerseConfigBytes(raw, "10.4.2.9")
	require.NoError(t, err)

	assert.Equal(t, int64(1073), config.RevID)
	assert.Equal(t, "default", config.BucketName)
	require.Len(t, config.Nodes, 3)

	assert.Equal(t, "node1.example.com", config.Nodes[0].Addresses.Hostname)
	assert.True(t, config.Nodes[0].HasData)
	assert.Equal(t, 11207, config.Nodes[0].Addresses.SSLPorts.Kv)

	// a node with no hostname takes the source hostname
	assert.Equal(t, "10.4.2.9", config.Nodes[1].Addresses.Hostname)

	// a node without a kv service carries no data
	assert.False(t, config.Nodes[2].HasData)

	require.NotNil(t, config.VbucketMap)
	assert.Equal(t, 4, config.VbucketMap.NumVbuckets())

	nodeIdx, err := config.VbucketMap.NodeByVbucket(1)
	require.NoError(t, err)
	assert.Equal(t, 1, nodeIdx)
}

func TestConfigParserWrapsIpv6Hostnames(t *testing.T) {
	raw := []byte(`{
		"rev": 2,
		"nodesExt": [
			{"hostname": "::1", "services": {"kv": 11210}}
		]
	}`)

	config, err := ConfigParser{}.ParseTerseConfigBytes(raw, "10.0.0.1")
	require.NoError(t, err)

	require.Len(t, config.Nodes, 1)
	assert.Equal(t, "[::1]", config.Nodes[0].Addresses.Hostname)
}

func TestConfigParserParsesAlternateAddresses(t *testing.T) {
	raw := []byte(`{
		"rev": 3,
		"nodesExt": [
			{
				"hostname": "10.0.0.1",
				"services": {"kv": 11210, "mgmt": 8091},
				"alternateAddresses": {
					"external": {"hostname": "ext.example.com", "ports": {"kv": 31210, "mgmt": 38091}}
				}
			}
		]
	}`)

	config, err := ConfigParser{}.ParseTerseConfigBytes(raw, "10.0.0.1")
	require.NoError(t, err)

	require.Len(t, config.Nodes, 1)
	altAddrs := config.Nodes[0].AddressesForNetworkType("external")
	assert.Equal(t, "ext.example.com", altAddrs.Hostname)
	assert.Equal(t, 31210, altAddrs.NonSSLPorts.Kv)

	// unknown views are blank rather than errors
	assert.Equal(t, ParsedConfigAddresses{}, config.Nodes[0].AddressesForNetworkType("missing"))
}

func TestParsedConfigCompareIsMonotone(t *testing.T) {
	older := &ParsedConfig{RevID: 1}
	newer := &ParsedConfig{RevID: 2}
	newerEpoch := &ParsedConfig{RevID: 1, RevEpoch: 1}

	assert.Equal(t, -1, older.Compare(newer))
	assert.Equal(t, +1, newer.Compare(older))
	assert.Equal(t, 0, older.Compare(older))
	assert.Equal(t, +2, newerEpoch.Compare(newer))
}

func TestParsedConfigKvEndpoints(t *testing.T) {
	config := altNetworkConfig()

	assert.Equal(t, []string{"10.0.0.1:11210"}, config.KvEndpoints(NetworkTypeDefault, false))
	assert.Equal(t, []string{"ext.example.com:31210"}, config.KvEndpoints("external", false))
	assert.Empty(t, config.KvEndpoints(NetworkTypeDefault, true))
}
