package godcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/couchbase/godcp/memdx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Client ties the config provider and the conductor together: it
// bootstraps the topology from the seed hosts, keeps it refreshed over
// the streaming config channel, and exposes the per-partition streaming
// surface.
type Client struct {
	logger *zap.Logger
	opts   ClientOptions

	lifecycle *lifecycleMachine

	httpTransport *http.Transport
	provider      *ConfigProviderHttp
	conductor     *Conductor

	providerCancel context.CancelFunc
	providerDone   chan struct{}

	started atomic.Bool
	stopped atomic.Bool

	firstConfigLock sync.Mutex
	firstConfigCh   chan struct{}
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BucketName == "" {
		return nil, invalidArgError{"bucket name must be specified"}
	}
	if len(opts.SeedAddresses) == 0 {
		return nil, invalidArgError{"at least one seed address must be specified"}
	}

	logger := loggerOrNop(opts.Logger)
	logger = logger.With(
		zap.String("dcpClientId", uuid.NewString()[:8]),
	)

	connNamePrefix := opts.ConnectionNamePrefix
	if connNamePrefix == "" {
		connNamePrefix = fmt.Sprintf("godcp/%s-%s", buildVersion, uuid.NewString()[:8])
	}

	c := &Client{
		logger:        logger,
		opts:          opts,
		lifecycle:     newLifecycleMachine(LifecycleStateDisconnected),
		firstConfigCh: make(chan struct{}),
	}

	c.opts.ConnectionNamePrefix = connNamePrefix

	return c, nil
}

func (c *Client) Lifecycle() LifecycleState {
	return c.lifecycle.State()
}

func (c *Client) OnLifecycleChange(fn func(LifecycleState)) {
	c.lifecycle.Observe(fn)
}

func makeHTTPTransport(tlsConfig *tls.Config) *http.Transport {
	return &http.Transport{
		ForceAttemptHTTP2: true,
		TLSClientConfig:   tlsConfig,
		DialContext:       nil,
	}
}

func (c *Client) seedMgmtEndpoints() []string {
	scheme := "http"
	if c.opts.TLSConfig != nil {
		scheme = "https"
	}

	endpoints := make([]string, 0, len(c.opts.SeedAddresses))
	for _, addr := range c.opts.SeedAddresses {
		endpoints = append(endpoints, fmt.Sprintf("%s://%s", scheme, addr))
	}
	return endpoints
}

func (c *Client) seedHosts() []string {
	hosts := make([]string, 0, len(c.opts.SeedAddresses))
	for _, addr := range c.opts.SeedAddresses {
		host, _, err := splitHostPort(addr)
		if err != nil {
			hosts = append(hosts, addr)
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// Start connects the config provider, waits for the first topology, and
// readies the conductor.  It must be called once before any stream is
// opened.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client was already started")
	}

	c.lifecycle.TransitionTo(LifecycleStateConnecting)

	c.httpTransport = makeHTTPTransport(c.opts.TLSConfig)

	reconnectDelay := c.opts.ConfigProviderReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultConfigProviderReconnectDelay
	}

	provider, err := NewConfigProviderHttp(&ConfigProviderHttpConfig{
		HttpRoundTripper:     c.httpTransport,
		Endpoints:            c.seedMgmtEndpoints(),
		UserAgent:            fmt.Sprintf("godcp/%s", buildVersion),
		Username:             c.opts.Credentials.Username,
		Password:             c.opts.Credentials.Password,
		BucketName:           c.opts.BucketName,
		SeedHosts:            c.seedHosts(),
		NetworkResolution:    c.opts.NetworkResolution,
		ReconnectDelay:       FixedBackoff(reconnectDelay),
		ReconnectMaxAttempts: c.opts.ConfigProviderReconnectMaxAttempts,
	}, &ConfigProviderHttpOptions{
		Logger: c.logger.Named("config-provider"),
	})
	if err != nil {
		return err
	}
	c.provider = provider

	c.conductor = NewConductor(ConductorConfig{
		BucketName: c.opts.BucketName,
		Username:   c.opts.Credentials.Username,
		Password:   c.opts.Credentials.Password,
		TLSConfig:  c.opts.TLSConfig,
		UserAgent:  fmt.Sprintf("godcp/%s", buildVersion),

		ConnectionNamePrefix: c.opts.ConnectionNamePrefix,
		NoopInterval:         c.opts.NoopInterval,
		ConnectTimeout:       c.opts.SocketConnectTimeout,
		EnableExpiryEvents:   c.opts.EnableExpiryEvents,

		FlowControlBufferSize:   c.opts.FlowControlBufferSize,
		FlowControlAckThreshold: c.opts.FlowControlAckThreshold,
		FlowControlMode:         c.opts.FlowControlMode,

		StreamFlags: c.opts.StreamFlags,
	}, &ConductorOptions{
		Logger:   c.logger.Named("conductor"),
		Handlers: c.opts.Handlers,
	})

	providerCtx, providerCancel := context.WithCancel(context.Background())
	c.providerCancel = providerCancel
	c.providerDone = make(chan struct{})

	configCh := c.provider.Watch(providerCtx)
	go func() {
		defer close(c.providerDone)
		for config := range configCh {
			c.applyConfig(config)
		}
	}()

	select {
	case <-c.firstConfigCh:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for first config")
	}

	c.lifecycle.TransitionTo(LifecycleStateConnected)
	c.logger.Info("client started",
		zap.Int("numPartitions", c.conductor.NumPartitions()))

	return nil
}

func (c *Client) applyConfig(config *ParsedConfig) {
	c.conductor.ApplyConfig(config, c.provider.NetworkType())

	// the config channel node list follows the applied topology
	mgmtEndpoints := config.MgmtEndpoints(c.provider.NetworkType(), c.opts.TLSConfig != nil)
	if len(mgmtEndpoints) > 0 {
		scheme := "http"
		if c.opts.TLSConfig != nil {
			scheme = "https"
		}
		endpoints := make([]string, 0, len(mgmtEndpoints))
		for _, endpoint := range mgmtEndpoints {
			endpoints = append(endpoints, fmt.Sprintf("%s://%s", scheme, endpoint))
		}
		c.provider.Reconfigure(endpoints)
	}

	c.firstConfigLock.Lock()
	select {
	case <-c.firstConfigCh:
	default:
		close(c.firstConfigCh)
	}
	c.firstConfigLock.Unlock()
}

// NumPartitions reports the bucket's partition count.
func (c *Client) NumPartitions() int {
	if c.conductor == nil {
		return 0
	}
	return c.conductor.NumPartitions()
}

// StartStream opens one partition stream at the given offset.  A zero
// offset streams from the beginning.
func (c *Client) StartStream(ctx context.Context, vbID uint16, offset StreamOffset) error {
	if c.stopped.Load() {
		return ErrShutdown
	}
	if c.conductor == nil {
		return ErrStillConnecting
	}
	return c.conductor.StartStream(ctx, vbID, offset)
}

// StartStreams opens a stream for every listed partition at its last
// committed offset (zero for never-streamed partitions).
func (c *Client) StartStreams(ctx context.Context, vbIDs []uint16) error {
	if c.conductor == nil {
		return ErrStillConnecting
	}
	for _, vbID := range vbIDs {
		offset, err := c.conductor.StreamOffsetFor(vbID)
		if err != nil {
			return err
		}
		if err := c.StartStream(ctx, vbID, offset); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) CloseStream(ctx context.Context, vbID uint16) error {
	if c.conductor == nil {
		return ErrStillConnecting
	}
	return c.conductor.CloseStream(ctx, vbID)
}

func (c *Client) GetFailoverLog(ctx context.Context, vbID uint16) ([]FailoverLogEntry, error) {
	if c.conductor == nil {
		return nil, ErrStillConnecting
	}
	return c.conductor.GetFailoverLog(ctx, vbID)
}

func (c *Client) ObserveSeqNo(ctx context.Context, vbID uint16, vbUuid uint64) (*memdx.ObserveSeqNoResponse, error) {
	if c.conductor == nil {
		return nil, ErrStillConnecting
	}
	return c.conductor.ObserveSeqNo(ctx, vbID, vbUuid)
}

// Stop tears the client down: the config stream is cancelled, all DCP
// connections close, and pending requests complete with
// closed-connection errors.
func (c *Client) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.lifecycle.TransitionTo(LifecycleStateDisconnecting)

	var err error
	if c.conductor != nil {
		err = c.conductor.Stop()
	}

	if c.providerCancel != nil {
		c.providerCancel()
		<-c.providerDone
	}

	if c.httpTransport != nil {
		c.httpTransport.CloseIdleConnections()
	}

	c.lifecycle.TransitionTo(LifecycleStateDisconnected)
	return err
}
