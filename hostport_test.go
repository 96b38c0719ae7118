package godcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostAndPortIpv6LiteralsAreCanonicalized(t *testing.T) {
	assert.Equal(t, "0:0:0:0:0:0:0:1", NewHostAndPort("::1", 0).Host())
	assert.Equal(t, "0:0:0:0:0:0:0:a", NewHostAndPort("::A", 0).Host())
}

func TestHostAndPortEqualsUsesCanonicalHost(t *testing.T) {
	assert.Equal(t, NewHostAndPort("0:0:0:0:0:0:0:1", 0), NewHostAndPort("::1", 0))
	assert.Equal(t, NewHostAndPort("0:0:0:0:0:0:0:a", 0), NewHostAndPort("::A", 0))
}

func TestHostAndPortEqualsUsesUnresolvedNames(t *testing.T) {
	assert.NotEqual(t, NewHostAndPort("localhost", 0), NewHostAndPort("127.0.0.1", 0))
	assert.NotEqual(t, NewHostAndPort("localhost", 0), NewHostAndPort("::1", 0))
}

func TestHostAndPortFormat(t *testing.T) {
	assert.Equal(t, "127.0.0.1:12345", NewHostAndPort("127.0.0.1", 12345).Format())
	assert.Equal(t, "[0:0:0:0:0:0:0:1]:12345", NewHostAndPort("0:0:0:0:0:0:0:1", 12345).Format())
	assert.Equal(t, "example.com:12345", NewHostAndPort("example.com", 12345).Format())
}
