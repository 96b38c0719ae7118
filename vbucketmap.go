package godcp

import (
	"errors"
	"hash/crc32"
)

type VbucketMap struct {
	entries     [][]int
	numReplicas int
}

func NewVbucketMap(entries [][]int, numReplicas int) (*VbucketMap, error) {
	if len(entries) == 0 {
		return nil, errors.New("vbucket map must have at least a single entry")
	}

	vbMap := VbucketMap{
		entries:     entries,
		numReplicas: numReplicas,
	}
	return &vbMap, nil
}

func (vbMap VbucketMap) IsValid() bool {
	return len(vbMap.entries) > 0 && len(vbMap.entries[0]) > 0
}

func (vbMap VbucketMap) NumVbuckets() int {
	return len(vbMap.entries)
}

func (vbMap VbucketMap) NumReplicas() int {
	return vbMap.numReplicas
}

func (vbMap VbucketMap) VbucketByKey(key []byte) uint16 {
	if len(vbMap.entries) == 0 {
		// prevent divide-by-zero panic's
		return 0
	}

	crc := crc32.ChecksumIEEE(key)
	crcMidBits := uint16(crc>>16) & ^uint16(0x8000)
	return crcMidBits % uint16(len(vbMap.entries))
}

func (vbMap VbucketMap) NodeByVbucket(vbID uint16) (int, error) {
	numVbs := uint16(len(vbMap.entries))
	if vbID >= numVbs {
		return 0, errors.New("vbucket id is beyond the bounds of the vbucket map")
	}

	return vbMap.entries[vbID][0], nil
}
