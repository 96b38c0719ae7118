package godcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/couchbase/godcp/memdx"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	defaultConfigProviderReconnectDelay = 5 * time.Second
	defaultStreamReconnectDelay         = 2 * time.Second
	defaultStreamReconnectMaxAttempts   = 16
)

type ConductorConfig struct {
	BucketName string
	Username   string
	Password   string
	TLSConfig  *tls.Config
	UserAgent  string

	ConnectionNamePrefix string
	NoopInterval         time.Duration
	ConnectTimeout       time.Duration
	EnableExpiryEvents   bool

	FlowControlBufferSize   uint32
	FlowControlAckThreshold float64
	FlowControlMode         FlowControlMode

	StreamFlags uint32

	ReconnectDelay       BackoffCalculator
	ReconnectMaxAttempts uint32
}

type ConductorOptions struct {
	Logger   *zap.Logger
	Handlers ChangeEventsHandlers

	// RequestConfigRefresh is invoked when the conductor observes evidence
	// that its topology view is stale (e.g. a not-my-vbucket response).
	RequestConfigRefresh func()
}

// Conductor owns the per-node DCP connections and the per-partition
// stream lifecycle.  It reacts to topology changes from the config
// provider, re-routing partition streams at their last committed offset.
type Conductor struct {
	logger    *zap.Logger
	config    ConductorConfig
	refreshFn func()

	dispatcher *EventDispatcher
	lifecycle  *lifecycleMachine

	bgCtx    context.Context
	bgCancel context.CancelFunc

	stopped atomic.Bool

	lock         sync.Mutex
	clients      map[string]*DcpClient
	stateTable   *streamStateTable
	latestConfig *ParsedConfig
	kvEndpoints  []string
	connNameCtr  atomic.Uint64
}

func NewConductor(config ConductorConfig, opts *ConductorOptions) *Conductor {
	bgCtx, bgCancel := context.WithCancel(context.Background())

	if config.ReconnectDelay == nil {
		config.ReconnectDelay = FixedBackoff(defaultStreamReconnectDelay)
	}
	if config.ReconnectMaxAttempts == 0 {
		config.ReconnectMaxAttempts = defaultStreamReconnectMaxAttempts
	}

	refreshFn := opts.RequestConfigRefresh
	if refreshFn == nil {
		refreshFn = func() {}
	}

	c := &Conductor{
		logger:    loggerOrNop(opts.Logger),
		config:    config,
		refreshFn: refreshFn,
		lifecycle: newLifecycleMachine(LifecycleStateDisconnected),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		clients:   make(map[string]*DcpClient),
	}

	c.dispatcher = NewEventDispatcher(&EventDispatcherOptions{
		Logger:          c.logger.Named("event-dispatcher"),
		Handlers:        opts.Handlers,
		FlowControlMode: config.FlowControlMode,
		OffsetObserver:  c.observeOffset,
	})

	return c
}

func (c *Conductor) Lifecycle() LifecycleState {
	return c.lifecycle.State()
}

func (c *Conductor) OnLifecycleChange(fn func(LifecycleState)) {
	c.lifecycle.Observe(fn)
}

// observeOffset commits the offset of every dispatched data event so a
// reconnect resumes from the last delivered position.
func (c *Conductor) observeOffset(vbID uint16, offset StreamOffset) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stateTable != nil && int(vbID) < c.stateTable.NumPartitions() {
		c.stateTable.Get(vbID).offset = offset
	}
}

// NumPartitions reports the partition count of the bucket, or zero
// before the first config has been applied.
func (c *Conductor) NumPartitions() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stateTable == nil {
		return 0
	}
	return c.stateTable.NumPartitions()
}

// StreamOffsetFor returns the last committed offset of a partition.
func (c *Conductor) StreamOffsetFor(vbID uint16) (StreamOffset, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stateTable == nil {
		return StreamOffset{}, ErrNoConfigReceived
	}
	if int(vbID) >= c.stateTable.NumPartitions() {
		return StreamOffset{}, ErrInvalidVbucket
	}

	return c.stateTable.Get(vbID).offset, nil
}

// ApplyConfig installs a newer topology.  Endpoints that disappeared are
// closed gracefully; partitions whose owner moved are re-requested on
// their new node at the last known offset.
func (c *Conductor) ApplyConfig(config *ParsedConfig, networkType string) {
	if c.stopped.Load() {
		return
	}

	c.lock.Lock()

	if c.latestConfig != nil && config.Compare(c.latestConfig) <= 0 {
		c.lock.Unlock()
		return
	}

	c.logger.Info("applying updated config",
		zap.Int64("rev", config.RevID),
		zap.String("networkType", networkType))

	c.latestConfig = config
	c.kvEndpoints = config.KvEndpoints(networkType, c.config.TLSConfig != nil)

	if c.stateTable == nil && config.VbucketMap != nil {
		stateTable, err := newStreamStateTable(config.VbucketMap.NumVbuckets())
		if err != nil {
			c.lock.Unlock()
			c.logger.Error("config carried an invalid vbucket map", zap.Error(err))
			return
		}
		c.stateTable = stateTable
	}

	c.lifecycle.TransitionTo(LifecycleStateConnected)

	// collect clients whose endpoint is no longer part of the cluster
	var removedClients []*DcpClient
	for endpoint, client := range c.clients {
		if !slices.Contains(c.kvEndpoints, endpoint) {
			delete(c.clients, endpoint)
			removedClients = append(removedClients, client)
		}
	}

	// find partitions that now belong to a different node
	type moveEntry struct {
		vbID   uint16
		offset StreamOffset
	}
	var moves []moveEntry
	if c.stateTable != nil {
		for vbID := 0; vbID < c.stateTable.NumPartitions(); vbID++ {
			state := c.stateTable.Get(uint16(vbID))
			if state.lifecycle != PartitionStreamStateStreaming &&
				state.lifecycle != PartitionStreamStateOpening {
				continue
			}

			newEndpoint, err := c.endpointForVbLocked(uint16(vbID))
			if err != nil {
				continue
			}

			if state.endpoint != "" && state.endpoint != newEndpoint {
				state.lifecycle = PartitionStreamStateIdle
				moves = append(moves, moveEntry{vbID: uint16(vbID), offset: state.offset})
			}
		}
	}

	c.lock.Unlock()

	for _, client := range removedClients {
		c.logger.Info("closing connection to removed endpoint",
			zap.String("endpoint", client.Address()))
		if err := client.Close(); err != nil {
			c.logger.Debug("failed to close removed client", zap.Error(err))
		}
	}

	for _, move := range moves {
		move := move
		go c.reopenStreamWithRetries(move.vbID, move.offset)
	}
}

func (c *Conductor) endpointForVbLocked(vbID uint16) (string, error) {
	if c.latestConfig == nil || c.latestConfig.VbucketMap == nil {
		return "", ErrNoConfigReceived
	}

	nodeIdx, err := c.latestConfig.VbucketMap.NodeByVbucket(vbID)
	if err != nil {
		return "", err
	}
	if nodeIdx < 0 || nodeIdx >= len(c.kvEndpoints) {
		return "", ErrNoEndpointForVb
	}

	return c.kvEndpoints[nodeIdx], nil
}

func (c *Conductor) getClient(ctx context.Context, endpoint string) (*DcpClient, error) {
	c.lock.Lock()
	if client, ok := c.clients[endpoint]; ok {
		c.lock.Unlock()
		return client, nil
	}
	connName := fmt.Sprintf("%s/%d", c.config.ConnectionNamePrefix, c.connNameCtr.Inc())
	c.lock.Unlock()

	client, err := NewDcpClient(ctx, &DcpClientOptions{
		Address:    endpoint,
		TLSConfig:  c.config.TLSConfig,
		ClientName: c.config.UserAgent,
		Username:   c.config.Username,
		Password:   c.config.Password,
		BucketName: c.config.BucketName,

		ConnectionName:     connName,
		ConnectionFlags:    memdx.DcpConnectionFlagsProducer,
		NoopInterval:       c.config.NoopInterval,
		EnableExpiryEvents: c.config.EnableExpiryEvents,

		FlowControlBufferSize:   c.config.FlowControlBufferSize,
		FlowControlAckThreshold: c.config.FlowControlAckThreshold,

		ConnectTimeout: c.config.ConnectTimeout,

		Handlers: DcpClientEventsHandlers{
			SnapshotMarker: c.dispatcher.HandleSnapshotMarker,
			Mutation:       c.dispatcher.HandleMutation,
			Deletion:       c.dispatcher.HandleDeletion,
			Expiration:     c.dispatcher.HandleExpiration,
			StreamEnd:      c.handleStreamEnd,
		},

		Logger:       c.logger.Named("dcp-client"),
		CloseHandler: c.handleConnectionClosed,
	})
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	if existing, ok := c.clients[endpoint]; ok {
		// someone else connected concurrently; keep theirs
		c.lock.Unlock()
		_ = client.Close()
		return existing, nil
	}
	c.clients[endpoint] = client
	c.lock.Unlock()

	return client, nil
}

// StartStream opens the partition stream at the given offset.  The
// stream transitions idle -> opening -> streaming; rollback and failure
// outcomes are surfaced through the event taxonomy as well as the
// returned error.
func (c *Conductor) StartStream(ctx context.Context, vbID uint16, offset StreamOffset) error {
	if c.stopped.Load() {
		return ErrShutdown
	}

	c.lock.Lock()
	if c.stateTable == nil {
		c.lock.Unlock()
		return ErrNoConfigReceived
	}
	if int(vbID) >= c.stateTable.NumPartitions() {
		c.lock.Unlock()
		return ErrInvalidVbucket
	}

	state := c.stateTable.Get(vbID)
	switch state.lifecycle {
	case PartitionStreamStateOpening, PartitionStreamStateStreaming:
		c.lock.Unlock()
		return errors.New("stream is already open")
	}
	state.lifecycle = PartitionStreamStateOpening
	state.offset = offset

	endpoint, err := c.endpointForVbLocked(vbID)
	if err != nil {
		state.lifecycle = PartitionStreamStateIdle
		c.lock.Unlock()
		return err
	}
	state.endpoint = endpoint
	c.lock.Unlock()

	client, err := c.getClient(ctx, endpoint)
	if err != nil {
		c.setPartitionState(vbID, PartitionStreamStateIdle)
		return err
	}

	resp, err := client.OpenStream(ctx, &memdx.DcpStreamReqRequest{
		VbucketID:      vbID,
		Flags:          c.config.StreamFlags,
		StartSeqNo:     offset.SeqNo,
		EndSeqNo:       math.MaxUint64,
		VbUuid:         offset.VbUuid,
		SnapStartSeqNo: offset.Snapshot.StartSeqNo,
		SnapEndSeqNo:   offset.Snapshot.EndSeqNo,
	})
	if err != nil {
		return c.handleStreamOpenFailure(vbID, err)
	}

	c.setPartitionState(vbID, PartitionStreamStateStreaming)

	entries := make([]FailoverLogEntry, len(resp.FailoverLog))
	for entryIdx, entry := range resp.FailoverLog {
		entries[entryIdx] = FailoverLogEntry{
			VbUuid: entry.VbUuid,
			SeqNo:  entry.SeqNo,
		}
	}
	c.dispatcher.RecordFailoverLog(vbID, entries)

	return nil
}

func (c *Conductor) handleStreamOpenFailure(vbID uint16, err error) error {
	var rollbackErr *memdx.DcpRollbackError
	if errors.As(err, &rollbackErr) {
		c.setPartitionState(vbID, PartitionStreamStateIdle)
		c.dispatcher.EmitRollback(vbID, rollbackErr.RollbackSeqNo)
		return err
	}

	if errors.Is(err, memdx.ErrNotMyVbucket) {
		// our topology view is stale; push the partition back to idle and
		// ask for a fresh config so the next attempt routes correctly.
		c.setPartitionState(vbID, PartitionStreamStateIdle)
		c.refreshFn()
		return err
	}

	if errors.Is(err, memdx.ErrClosedInFlight) {
		c.setPartitionState(vbID, PartitionStreamStateIdle)
		return err
	}

	c.setPartitionState(vbID, PartitionStreamStateFailed)
	c.dispatcher.EmitStreamFailure(int(vbID), err)
	return err
}

// CloseStream gracefully closes the partition stream.  The server
// confirms with a stream-end frame when the feature is negotiated.
func (c *Conductor) CloseStream(ctx context.Context, vbID uint16) error {
	c.lock.Lock()
	if c.stateTable == nil || int(vbID) >= c.stateTable.NumPartitions() {
		c.lock.Unlock()
		return ErrInvalidVbucket
	}
	endpoint := c.stateTable.Get(vbID).endpoint
	client := c.clients[endpoint]
	c.lock.Unlock()

	if client == nil {
		return ErrNoEndpointForVb
	}

	return client.CloseStream(ctx, vbID)
}

// GetFailoverLog reads the partition's failover log, updating the
// dispatcher's branch uuid table in passing.
func (c *Conductor) GetFailoverLog(ctx context.Context, vbID uint16) ([]FailoverLogEntry, error) {
	c.lock.Lock()
	if c.stateTable == nil || int(vbID) >= c.stateTable.NumPartitions() {
		c.lock.Unlock()
		return nil, ErrInvalidVbucket
	}
	endpoint, err := c.endpointForVbLocked(vbID)
	c.lock.Unlock()
	if err != nil {
		return nil, err
	}

	client, err := c.getClient(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	rawEntries, err := client.GetFailoverLog(ctx, vbID)
	if err != nil {
		return nil, err
	}

	entries := make([]FailoverLogEntry, len(rawEntries))
	for entryIdx, entry := range rawEntries {
		entries[entryIdx] = FailoverLogEntry{
			VbUuid: entry.VbUuid,
			SeqNo:  entry.SeqNo,
		}
	}
	c.dispatcher.RecordFailoverLog(vbID, entries)

	return entries, nil
}

// ObserveSeqNo queries the current and persisted seqno of a partition.
func (c *Conductor) ObserveSeqNo(ctx context.Context, vbID uint16, vbUuid uint64) (*memdx.ObserveSeqNoResponse, error) {
	c.lock.Lock()
	if c.stateTable == nil || int(vbID) >= c.stateTable.NumPartitions() {
		c.lock.Unlock()
		return nil, ErrInvalidVbucket
	}
	endpoint, err := c.endpointForVbLocked(vbID)
	c.lock.Unlock()
	if err != nil {
		return nil, err
	}

	client, err := c.getClient(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return client.ObserveSeqNo(ctx, vbID, vbUuid)
}

func (c *Conductor) setPartitionState(vbID uint16, state PartitionStreamState) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stateTable != nil && int(vbID) < c.stateTable.NumPartitions() {
		c.stateTable.Get(vbID).lifecycle = state
	}
}

func (c *Conductor) handleStreamEnd(evt *memdx.DcpStreamEndEvent) error {
	c.setPartitionState(evt.VbucketId, PartitionStreamStateEnded)
	c.dispatcher.EmitStreamEnd(evt.VbucketId, evt.Reason)
	return nil
}

// handleConnectionClosed reacts to a dropped node connection: every
// partition on it that was opening or streaming returns to idle and is
// re-opened at its last committed offset with bounded retries.
func (c *Conductor) handleConnectionClosed(client *DcpClient, err error) {
	if c.stopped.Load() {
		// a graceful stop closes connections deliberately; no failure is
		// surfaced for those.
		return
	}

	c.lock.Lock()
	existing, ok := c.clients[client.Address()]
	if !ok || existing != client {
		// the conductor closed this client deliberately (topology change
		// or replacement); nothing to recover.
		c.lock.Unlock()
		return
	}
	delete(c.clients, client.Address())

	c.logger.Warn("dcp connection lost",
		zap.String("endpoint", client.Address()),
		zap.Error(err))

	type reopenEntry struct {
		vbID   uint16
		offset StreamOffset
	}
	var reopens []reopenEntry
	if c.stateTable != nil {
		for _, vbID := range c.stateTable.PartitionsOnEndpoint(client.Address()) {
			state := c.stateTable.Get(vbID)
			if state.lifecycle != PartitionStreamStateStreaming &&
				state.lifecycle != PartitionStreamStateOpening {
				continue
			}
			state.lifecycle = PartitionStreamStateIdle
			reopens = append(reopens, reopenEntry{vbID: vbID, offset: state.offset})
		}
	}
	c.lock.Unlock()

	if err != nil {
		c.dispatcher.EmitStreamFailure(-1, err)
	}

	for _, reopen := range reopens {
		reopen := reopen
		go c.reopenStreamWithRetries(reopen.vbID, reopen.offset)
	}
}

func (c *Conductor) reopenStreamWithRetries(vbID uint16, offset StreamOffset) {
	_, err := OrchestrateRetries(c.bgCtx, RetryOrchestratorOptions{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     c.config.ReconnectDelay,
		OnRetry: func(retryAttempt uint32, cause error, delay time.Duration) {
			c.logger.Debug("retrying stream open",
				zap.Uint16("vbucketID", vbID),
				zap.Uint32("retryAttempt", retryAttempt),
				zap.Duration("delay", delay),
				zap.Error(cause))
		},
	}, func() (struct{}, error) {
		if c.stopped.Load() {
			return struct{}{}, nil
		}
		return struct{}{}, c.StartStream(c.bgCtx, vbID, offset)
	})
	if err != nil && !c.stopped.Load() {
		c.logger.Error("failed to re-open stream",
			zap.Uint16("vbucketID", vbID),
			zap.Error(err))
		c.dispatcher.EmitStreamFailure(int(vbID), err)
	}
}

// Stop winds the conductor down.  In-flight request callbacks complete
// with closed-connection errors, and no StreamFailure is emitted for the
// deliberate closes.
func (c *Conductor) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.lifecycle.TransitionTo(LifecycleStateDisconnecting)
	c.bgCancel()

	c.lock.Lock()
	clients := c.clients
	c.clients = make(map[string]*DcpClient)
	c.lock.Unlock()

	var firstErr error
	for _, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.lifecycle.TransitionTo(LifecycleStateDisconnected)
	return firstErr
}
