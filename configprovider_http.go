package godcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/couchbase/godcp/cbhttpx"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type ConfigProviderHttpConfig struct {
	HttpRoundTripper http.RoundTripper
	Endpoints        []string
	UserAgent        string
	Username         string
	Password         string
	BucketName       string

	// SeedHosts feed the alternate-network heuristic; usually the hosts
	// the endpoints were derived from.
	SeedHosts         []string
	NetworkResolution string

	ReconnectDelay       BackoffCalculator
	ReconnectMaxAttempts uint32
}

type ConfigProviderHttpOptions struct {
	Logger *zap.Logger
}

type configProviderHttpState struct {
	httpRoundTripper http.RoundTripper
	endpoints        []string
}

// ConfigProviderHttp keeps new bucket configs coming in all the time in a
// resilient manner.  It holds one streaming connection against any one
// cluster node, parses the chunked config documents it produces, and
// publishes every config that is strictly newer than the last one seen.
type ConfigProviderHttp struct {
	logger            *zap.Logger
	userAgent         string
	username          string
	password          string
	bucketName        string
	seedHosts         []string
	networkResolution string
	reconnectDelay    BackoffCalculator
	reconnectMax      uint32

	lifecycle  *lifecycleMachine
	currentRev atomic.Int64

	networkTypeOnce sync.Once
	networkType     atomic.String

	lock  sync.Mutex
	state *configProviderHttpState
}

func NewConfigProviderHttp(config *ConfigProviderHttpConfig, opts *ConfigProviderHttpOptions) (*ConfigProviderHttp, error) {
	if config.BucketName == "" {
		return nil, errors.New("bucket name must be specified")
	}
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint must be specified")
	}

	reconnectDelay := config.ReconnectDelay
	if reconnectDelay == nil {
		reconnectDelay = FixedBackoff(defaultConfigProviderReconnectDelay)
	}

	p := &ConfigProviderHttp{
		logger:            loggerOrNop(opts.Logger),
		userAgent:         config.UserAgent,
		username:          config.Username,
		password:          config.Password,
		bucketName:        config.BucketName,
		seedHosts:         config.SeedHosts,
		networkResolution: config.NetworkResolution,
		reconnectDelay:    reconnectDelay,
		reconnectMax:      config.ReconnectMaxAttempts,
		lifecycle:         newLifecycleMachine(LifecycleStateDisconnected),
		state: &configProviderHttpState{
			httpRoundTripper: config.HttpRoundTripper,
			endpoints:        config.Endpoints,
		},
	}
	p.currentRev.Store(-1)
	p.networkType.Store(NetworkTypeDefault)

	return p, nil
}

// Reconfigure swaps the endpoint list used for future connection sweeps.
// The active streaming connection is left alone; the new list takes
// effect on the next reconnect.
func (p *ConfigProviderHttp) Reconfigure(endpoints []string) {
	p.lock.Lock()
	p.state = &configProviderHttpState{
		httpRoundTripper: p.state.httpRoundTripper,
		endpoints:        endpoints,
	}
	p.lock.Unlock()
}

func (p *ConfigProviderHttp) Lifecycle() LifecycleState {
	return p.lifecycle.State()
}

func (p *ConfigProviderHttp) OnLifecycleChange(fn func(LifecycleState)) {
	p.lifecycle.Observe(fn)
}

// NetworkType reports the address view selected by the alternate-network
// heuristic.  The decision is made once, on the first received config.
func (p *ConfigProviderHttp) NetworkType() string {
	return p.networkType.Load()
}

// Watch starts the provider and returns the config stream.  The channel
// is closed once the context is cancelled and the provider has wound
// down.
func (p *ConfigProviderHttp) Watch(ctx context.Context) <-chan *ParsedConfig {
	outCh := make(chan *ParsedConfig, 1)
	go p.watchThread(ctx, outCh)
	return outCh
}

func (p *ConfigProviderHttp) watchThread(ctx context.Context, outCh chan<- *ParsedConfig) {
	var failedSweeps uint32

	for ctx.Err() == nil {
		p.lock.Lock()
		state := p.state
		p.lock.Unlock()

		p.lifecycle.TransitionTo(LifecycleStateConnecting)

		anyEndpointWorked := false
		for _, endpoint := range state.endpoints {
			if ctx.Err() != nil {
				break
			}

			err := p.streamOne(ctx, state.httpRoundTripper, endpoint, outCh)
			if err != nil {
				p.logger.Warn("failed to stream configs from endpoint",
					zap.Error(err),
					zap.String("endpoint", endpoint))
				continue
			}

			// a nil error means the stream was established and later ended
			// cleanly (server-side disconnect or auto-cycle), so the sweep
			// counter resets.
			anyEndpointWorked = true
		}

		if ctx.Err() != nil {
			break
		}

		if anyEndpointWorked {
			// the server ended the stream; take a breath before the next
			// sweep so a flapping node cannot drive a reconnect spin.
			failedSweeps = 0
			if err := contextSleep(ctx, p.reconnectDelay(0)); err != nil {
				break
			}
			continue
		}

		if p.reconnectMax > 0 && failedSweeps >= p.reconnectMax {
			p.logger.Error("config provider exhausted its reconnect attempts")
			break
		}

		delay := p.reconnectDelay(failedSweeps)
		failedSweeps++

		p.logger.Debug("all config endpoints failed, sleeping before next sweep",
			zap.Duration("delay", delay),
			zap.Uint32("failedSweeps", failedSweeps))

		if err := contextSleep(ctx, delay); err != nil {
			break
		}
	}

	p.lifecycle.TransitionTo(LifecycleStateDisconnecting)
	p.lifecycle.TransitionTo(LifecycleStateDisconnected)
	close(outCh)
}

func (p *ConfigProviderHttp) streamOne(
	ctx context.Context,
	roundTripper http.RoundTripper,
	endpoint string,
	outCh chan<- *ParsedConfig,
) error {
	req, err := cbhttpx.RequestBuilder{
		UserAgent: p.userAgent,
		Endpoint:  endpoint,
		Auth: cbhttpx.BasicAuth{
			Username: p.username,
			Password: p.password,
		},
	}.NewRequest(ctx, "GET",
		fmt.Sprintf("/pools/default/bs/%s", p.bucketName), "", nil)
	if err != nil {
		return err
	}

	resp, err := cbhttpx.Client{
		Transport: roundTripper,
	}.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != 200 {
		return errors.Errorf("unexpected streaming config response status: %d", resp.StatusCode)
	}

	sourceHostname, err := hostFromEndpoint(endpoint)
	if err != nil {
		return err
	}

	p.lifecycle.TransitionTo(LifecycleStateConnected)
	p.logger.Info("streaming configs",
		zap.String("endpoint", endpoint))

	streamer := &cbhttpx.ConfigChunkStreamer{
		Reader:         resp.Body,
		SourceHostname: sourceHostname,
	}

	for {
		rawDoc, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		p.handleConfigDoc(ctx, rawDoc, sourceHostname, outCh)
	}
}

func (p *ConfigProviderHttp) handleConfigDoc(ctx context.Context, rawDoc []byte, sourceHostname string, outCh chan<- *ParsedConfig) {
	parsedConfig, err := ConfigParser{}.ParseTerseConfigBytes(rawDoc, sourceHostname)
	if err != nil {
		// a bad document does not tear the stream down; the separator scan
		// already consumed it, so the next document may resynchronize us.
		configParseFailures.Add(context.Background(), 1)
		p.logger.Warn("failed to parse streaming config document",
			zap.Error(err))
		return
	}

	if !p.tryAdvanceRev(parsedConfig.RevID) {
		p.logger.Debug("ignoring config, rev has not advanced",
			zap.Int64("rev", parsedConfig.RevID))
		return
	}

	p.networkTypeOnce.Do(func() {
		networkType := NetworkTypeHeuristic{}.Identify(
			parsedConfig, p.networkResolution, p.seedHosts)
		p.networkType.Store(networkType)
		p.logger.Info("selected network type",
			zap.String("networkType", networkType))
	})

	configsApplied.Add(context.Background(), 1)
	select {
	case outCh <- parsedConfig:
	case <-ctx.Done():
	}
}

// tryAdvanceRev advances the revision counter to rev if it is strictly
// greater than the current value.
func (p *ConfigProviderHttp) tryAdvanceRev(rev int64) bool {
	for {
		currentRev := p.currentRev.Load()
		if rev <= currentRev {
			return false
		}

		if p.currentRev.CompareAndSwap(currentRev, rev) {
			return true
		}
	}
}

func hostFromEndpoint(endpoint string) (string, error) {
	uri, err := parseEndpointUri(endpoint)
	if err != nil {
		return "", err
	}

	host, _, err := net.SplitHostPort(uri.Host)
	if err != nil {
		return uri.Host, nil
	}
	return host, nil
}
