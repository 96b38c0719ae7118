// Package cbconfig provides the raw JSON structures of the couchbase
// bucket configuration payloads.
package cbconfig

type VBucketServerMapJson struct {
	HashAlgorithm string   `json:"hashAlgorithm"`
	NumReplicas   int      `json:"numReplicas"`
	ServerList    []string `json:"serverList"`
	VBucketMap    [][]int  `json:"vBucketMap,omitempty"`
}

type TerseExtNodePortsJson struct {
	Kv      uint16 `json:"kv,omitempty"`
	Capi    uint16 `json:"capi,omitempty"`
	Mgmt    uint16 `json:"mgmt,omitempty"`
	KvSsl   uint16 `json:"kvSSL,omitempty"`
	CapiSsl uint16 `json:"capiSSL,omitempty"`
	MgmtSsl uint16 `json:"mgmtSSL,omitempty"`
}

type TerseExtNodeAltAddressesJson struct {
	Ports    *TerseExtNodePortsJson `json:"ports,omitempty"`
	Hostname string                 `json:"hostname,omitempty"`
}

type TerseExtNodeJson struct {
	Services     *TerseExtNodePortsJson                  `json:"services,omitempty"`
	ThisNode     bool                                    `json:"thisNode,omitempty"`
	Hostname     string                                  `json:"hostname,omitempty"`
	AltAddresses map[string]TerseExtNodeAltAddressesJson `json:"alternateAddresses,omitempty"`
}

type TerseConfigJson struct {
	Rev                    int                   `json:"rev,omitempty"`
	RevEpoch               int                   `json:"revEpoch,omitempty"`
	Name                   string                `json:"name,omitempty"`
	UUID                   string                `json:"uuid,omitempty"`
	NodeLocator            string                `json:"nodeLocator,omitempty"`
	NodesExt               []TerseExtNodeJson    `json:"nodesExt,omitempty"`
	VBucketServerMap       *VBucketServerMapJson `json:"vBucketServerMap,omitempty"`
	ClusterCapabilitiesVer []int                 `json:"clusterCapabilitiesVer,omitempty"`
	ClusterCapabilities    map[string][]string   `json:"clusterCapabilities,omitempty"`
}
