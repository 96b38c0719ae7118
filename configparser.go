package godcp

import (
	"encoding/json"
	"strings"

	"github.com/couchbase/godcp/contrib/cbconfig"
)

func parseConfigHostname(hostname string, sourceHostname string) string {
	if hostname == "" {
		// if no hostname is provided, we want to be using the source one
		return sourceHostname
	}

	if strings.Contains(hostname, ":") {
		// this appears to be an IPv6 address, wrap it for everyone else
		return "[" + hostname + "]"
	}
	return hostname
}

func parseConfigHostsInto(hostname string, ports *cbconfig.TerseExtNodePortsJson) ParsedConfigAddresses {
	var config ParsedConfigAddresses

	config.Hostname = hostname

	if ports != nil {
		config.NonSSLPorts.Kv = int(ports.Kv)
		config.NonSSLPorts.Mgmt = int(ports.Mgmt)

		config.SSLPorts.Kv = int(ports.KvSsl)
		config.SSLPorts.Mgmt = int(ports.MgmtSsl)
	}

	return config
}

type ConfigParser struct{}

// ParseTerseConfigBytes parses a raw streaming config document.  The
// `$HOST` substitution has already happened upstream; sourceHostname is
// still needed for nodes that omit their hostname.
func (p ConfigParser) ParseTerseConfigBytes(raw []byte, sourceHostname string) (*ParsedConfig, error) {
	var config cbconfig.TerseConfigJson
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, err
	}

	return p.ParseTerseConfig(&config, sourceHostname)
}

func (p ConfigParser) ParseTerseConfig(config *cbconfig.TerseConfigJson, sourceHostname string) (*ParsedConfig, error) {
	var out ParsedConfig
	out.RevID = int64(config.Rev)
	out.RevEpoch = int64(config.RevEpoch)

	out.Nodes = make([]ParsedConfigNode, len(config.NodesExt))
	for nodeIdx, node := range config.NodesExt {
		nodeHostname := parseConfigHostname(node.Hostname, sourceHostname)

		var nodeOut ParsedConfigNode
		nodeOut.Addresses = parseConfigHostsInto(nodeHostname, node.Services)
		nodeOut.HasData = node.Services != nil && node.Services.Kv > 0

		nodeOut.AltAddresses = make(map[string]ParsedConfigAddresses)
		for networkType, altAddrs := range node.AltAddresses {
			altHostname := parseConfigHostname(altAddrs.Hostname, nodeHostname)
			nodeOut.AltAddresses[networkType] = parseConfigHostsInto(altHostname, altAddrs.Ports)
		}

		out.Nodes[nodeIdx] = nodeOut
	}

	out.BucketUUID = config.UUID
	out.BucketName = config.Name

	if config.VBucketServerMap != nil && len(config.VBucketServerMap.VBucketMap) > 0 {
		vbMap, err := NewVbucketMap(
			config.VBucketServerMap.VBucketMap,
			config.VBucketServerMap.NumReplicas)
		if err != nil {
			return nil, err
		}

		out.VbucketMap = vbMap
	}

	return &out, nil
}
