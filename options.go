package godcp

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/couchbaselabs/gocbconnstr/v2"
	"go.uber.org/zap"
)

// Credentials carries the username/password pair used for both the HTTP
// config channel and memcached SASL authentication.
type Credentials struct {
	Username string
	Password string
}

type ClientOptions struct {
	Logger *zap.Logger

	// SeedAddresses is the cluster-manager (8091-style) seed host list the
	// config provider bootstraps from, in host:port form.
	SeedAddresses []string

	BucketName  string
	Credentials Credentials

	// TLSConfig enables TLS transport and selects the ssl service ports
	// from the cluster config.
	TLSConfig *tls.Config

	// NetworkResolution selects the address view of the cluster: default,
	// auto, or a named alternate network such as external.
	NetworkResolution string

	SocketConnectTimeout time.Duration

	ConfigProviderReconnectDelay       time.Duration
	ConfigProviderReconnectMaxAttempts uint32

	FlowControlBufferSize   uint32
	FlowControlAckThreshold float64
	FlowControlMode         FlowControlMode

	NoopInterval       time.Duration
	EnableExpiryEvents bool

	// StreamFlags is passed verbatim into every stream request.
	StreamFlags uint32

	// ConnectionNamePrefix namespaces the DCP connection names this
	// client registers on the server.
	ConnectionNamePrefix string

	Handlers ChangeEventsHandlers
}

// FromConnStr fills the seed address list from a couchbase connection
// string such as "couchbase://host1,host2".
func (o *ClientOptions) FromConnStr(connStr string) error {
	baseSpec, err := gocbconnstr.Parse(connStr)
	if err != nil {
		return err
	}

	spec, err := gocbconnstr.Resolve(baseSpec)
	if err != nil {
		return err
	}

	var httpHosts []string
	for _, specHost := range spec.HttpHosts {
		httpHosts = append(httpHosts, fmt.Sprintf("%s:%d", specHost.Host, specHost.Port))
	}

	o.SeedAddresses = httpHosts
	return nil
}
