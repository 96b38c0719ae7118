package godcp

import (
	"golang.org/x/exp/slices"
)

// NetworkResolution values accepted on the client options.  Any other
// value names an alternate-address view directly.
const (
	NetworkResolutionDefault  = "default"
	NetworkResolutionAuto     = "auto"
	NetworkResolutionExternal = "external"
)

type NetworkTypeHeuristic struct{}

func (h NetworkTypeHeuristic) hostnamesOf(seedHosts []string) []string {
	canonical := make([]string, 0, len(seedHosts))
	for _, host := range seedHosts {
		canonical = append(canonical, NewHostAndPort(host, 0).Host())
	}
	return canonical
}

func (h NetworkTypeHeuristic) nodeMatchesSeed(addrs ParsedConfigAddresses, seedHosts []string) bool {
	return slices.Contains(seedHosts, NewHostAndPort(addrs.Hostname, 0).Host())
}

// Identify determines which address view of the cluster should be used.
// A resolution of "default" always selects the primary view; a named
// resolution selects that alternate view; "auto" compares the seed hosts
// against each node's primary hostname first and then its alternates,
// falling back to the primary view when nothing matches.
func (h NetworkTypeHeuristic) Identify(config *ParsedConfig, resolution string, seedHosts []string) string {
	if resolution == "" || resolution == NetworkResolutionDefault {
		return NetworkTypeDefault
	}

	if resolution != NetworkResolutionAuto {
		return resolution
	}

	seeds := h.hostnamesOf(seedHosts)

	// we check the primary hostnames first in case there is overlap between
	// the addresses and alt-addresses, we want to use the internal network
	for _, node := range config.Nodes {
		if h.nodeMatchesSeed(node.Addresses, seeds) {
			return NetworkTypeDefault
		}
	}

	for _, node := range config.Nodes {
		for networkType, altAddrs := range node.AltAddresses {
			if h.nodeMatchesSeed(altAddrs, seeds) {
				return networkType
			}
		}
	}

	return NetworkTypeDefault
}
