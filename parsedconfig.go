package godcp

// NetworkTypeDefault names the primary address view of a cluster config.
const NetworkTypeDefault = "default"

type ParsedConfigServicePorts struct {
	Kv   int
	Mgmt int
}

type ParsedConfigAddresses struct {
	Hostname    string
	NonSSLPorts ParsedConfigServicePorts
	SSLPorts    ParsedConfigServicePorts
}

type ParsedConfigNode struct {
	HasData      bool
	Addresses    ParsedConfigAddresses
	AltAddresses map[string]ParsedConfigAddresses
}

// AddressesForNetworkType returns the requested address view of the
// node.  Unknown network types yield a blank view rather than an error.
func (node ParsedConfigNode) AddressesForNetworkType(networkType string) ParsedConfigAddresses {
	if networkType == NetworkTypeDefault {
		return node.Addresses
	}

	addresses, ok := node.AltAddresses[networkType]
	if !ok {
		return ParsedConfigAddresses{}
	}

	return addresses
}

type ParsedConfig struct {
	RevID    int64
	RevEpoch int64

	BucketUUID string
	BucketName string
	VbucketMap *VbucketMap

	Nodes []ParsedConfigNode
}

func (config *ParsedConfig) IsVersioned() bool {
	return config.RevEpoch > 0 || config.RevID > 0
}

func (config *ParsedConfig) Compare(oconfig *ParsedConfig) int {
	if config.RevEpoch < oconfig.RevEpoch {
		// this config is an older epoch
		return -2
	} else if config.RevEpoch > oconfig.RevEpoch {
		// this config is a newer epoch
		return +2
	}

	if config.RevID < oconfig.RevID {
		// this config is an older config
		return -1
	} else if config.RevID > oconfig.RevID {
		// this config is a newer config
		return +1
	}

	return 0
}

// KvEndpoints lists the kv service address of every data node under the
// given network view, in node order.
func (config *ParsedConfig) KvEndpoints(networkType string, useSsl bool) []string {
	var endpoints []string
	for _, node := range config.Nodes {
		if !node.HasData {
			continue
		}

		addrs := node.AddressesForNetworkType(networkType)
		port := addrs.NonSSLPorts.Kv
		if useSsl {
			port = addrs.SSLPorts.Kv
		}
		if addrs.Hostname == "" || port == 0 {
			continue
		}

		endpoints = append(endpoints, NewHostAndPort(addrs.Hostname, port).Format())
	}
	return endpoints
}

// MgmtEndpoints lists the management service address of every node under
// the given network view.
func (config *ParsedConfig) MgmtEndpoints(networkType string, useSsl bool) []string {
	var endpoints []string
	for _, node := range config.Nodes {
		addrs := node.AddressesForNetworkType(networkType)
		port := addrs.NonSSLPorts.Mgmt
		if useSsl {
			port = addrs.SSLPorts.Mgmt
		}
		if addrs.Hostname == "" || port == 0 {
			continue
		}

		endpoints = append(endpoints, NewHostAndPort(addrs.Hostname, port).Format())
	}
	return endpoints
}
