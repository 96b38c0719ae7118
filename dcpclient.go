package godcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/couchbase/godcp/memdx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DcpClientEventsHandlers receives the decoded unsolicited events from a
// single DCP connection, each paired with the connection's flow
// controller.
type DcpClientEventsHandlers struct {
	SnapshotMarker func(fc *FlowController, evt *memdx.DcpSnapshotMarkerEvent) error
	Mutation       func(fc *FlowController, evt *memdx.DcpMutationEvent) error
	Deletion       func(fc *FlowController, evt *memdx.DcpDeletionEvent) error
	Expiration     func(fc *FlowController, evt *memdx.DcpExpirationEvent) error
	StreamEnd      func(evt *memdx.DcpStreamEndEvent) error
	SeqNoAdvanced  func(evt *memdx.DcpSeqNoAdvancedEvent) error
}

type DcpClientOptions struct {
	Address    string
	TLSConfig  *tls.Config
	ClientName string
	Username   string
	Password   string
	BucketName string

	ConnectionName     string
	ConnectionFlags    memdx.DcpConnectionFlags
	NoopInterval       time.Duration
	EnableExpiryEvents bool

	FlowControlBufferSize   uint32
	FlowControlAckThreshold float64

	ConnectTimeout time.Duration

	Handlers DcpClientEventsHandlers

	Logger       *zap.Logger
	CloseHandler func(*DcpClient, error)
}

// DcpClient is one producer connection to a kv node: it bootstraps the
// connection (hello, auth, bucket selection, DCP open and control
// negotiation) and then routes unsolicited frames into the handlers.
type DcpClient struct {
	logger   *zap.Logger
	address  string
	handlers DcpClientEventsHandlers

	cli         *memdx.Client
	flowControl *FlowController

	noopEnabled             bool
	streamEndOnCloseEnabled bool

	closed uint32
}

func NewDcpClient(ctx context.Context, opts *DcpClientOptions) (*DcpClient, error) {
	if opts.ConnectionName == "" {
		return nil, invalidArgError{"connection name must be specified"}
	}
	if opts.BucketName == "" {
		return nil, invalidArgError{"bucket name must be specified"}
	}
	if (opts.ConnectionFlags & memdx.DcpConnectionFlagsProducer) == 0 {
		return nil, invalidArgError{"dcp client only supports producer mode"}
	}

	logger := loggerOrNop(opts.Logger)
	// We namespace the client to improve debugging
	logger = logger.With(
		zap.String("clientId", uuid.NewString()[:8]),
	)

	dcpCli := &DcpClient{
		logger:   logger,
		address:  opts.Address,
		handlers: opts.Handlers,
	}

	logger.Debug("id assigned for " + opts.Address)

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := memdx.DialConn(dialCtx, opts.Address, &memdx.DialConnOptions{
		TLSConfig: opts.TLSConfig,
	})
	if err != nil {
		return nil, contextualError{
			Message: "failed to dial connection",
			Cause:   err,
		}
	}

	dcpCli.cli = memdx.NewClient(conn, &memdx.ClientOptions{
		UnsolicitedHandler: dcpCli.handleUnsolicitedPacket,
		OrphanHandler:      dcpCli.handleOrphanResponse,
		CloseHandler: func(err error) {
			if opts.CloseHandler != nil {
				opts.CloseHandler(dcpCli, err)
			}
		},
		Logger: logger,
	})

	dcpCli.flowControl = NewFlowController(
		opts.FlowControlBufferSize,
		opts.FlowControlAckThreshold,
		dcpCli.sendBufferAck,
		logger)

	closeConnection := func() {
		if closeErr := dcpCli.Close(); closeErr != nil {
			dcpCli.logger.Debug("failed to close connection for DcpClient", zap.Error(closeErr))
		}
	}

	dcpCli.logger.Debug("bootstrapping")
	if err := dcpCli.bootstrap(ctx, opts); err != nil {
		dcpCli.logger.Debug("bootstrap failed", zap.Error(err))
		closeConnection()

		return nil, contextualError{
			Message: "failed to bootstrap",
			Cause:   err,
		}
	}

	dcpCli.logger.Debug("successfully configured new DcpClient")

	return dcpCli, nil
}

func (c *DcpClient) bootstrap(ctx context.Context, opts *DcpClientOptions) error {
	_, err := syncMemdxCall(ctx, memdx.OpsCore{}, memdx.OpsCore.Hello, c.cli, &memdx.HelloRequest{
		ClientName: []byte(opts.ClientName),
		RequestedFeatures: []memdx.HelloFeature{
			memdx.HelloFeatureDatatype,
			memdx.HelloFeatureSeqNo,
			memdx.HelloFeatureXerror,
			memdx.HelloFeatureSnappy,
			memdx.HelloFeatureJSON,
			memdx.HelloFeatureSelectBucket,
		},
	})
	if err != nil {
		return contextualError{Message: "hello failed", Cause: err}
	}

	if opts.Username != "" {
		err := c.saslAuth(ctx, opts.Username, opts.Password)
		if err != nil {
			return contextualError{Message: "authentication failed", Cause: err}
		}
	}

	err = c.selectBucket(ctx, opts.BucketName)
	if err != nil {
		return contextualError{Message: "select bucket failed", Cause: err}
	}

	_, err = syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.DcpOpenConnection, c.cli, &memdx.DcpOpenConnectionRequest{
		ConnectionName: opts.ConnectionName,
		Flags:          opts.ConnectionFlags,
	})
	if err != nil {
		return contextualError{Message: "dcp openconnection failed", Cause: err}
	}

	if c.flowControl.BufferSize() > 0 {
		_, err = c.dcpControl(ctx, "connection_buffer_size",
			fmt.Sprintf("%d", c.flowControl.BufferSize()))
		if err != nil {
			return contextualError{Message: "failed to set connection buffer size", Cause: err}
		}
	}

	_, err = c.dcpControl(ctx, "send_stream_end_on_client_close_stream", "true")
	if err != nil {
		c.logger.Debug("failed to enable stream-end-on-close feature", zap.Error(err))
	} else {
		c.streamEndOnCloseEnabled = true
	}

	if opts.NoopInterval > 0 {
		_, err = c.dcpControl(ctx, "set_noop_interval",
			fmt.Sprintf("%d", opts.NoopInterval/time.Second))
		if err == nil {
			_, err = c.dcpControl(ctx, "enable_noop", "true")
		}
		if err != nil {
			c.logger.Debug("noop requested, but could not be enabled", zap.Error(err))
		} else {
			c.noopEnabled = true
		}
	}

	if opts.EnableExpiryEvents {
		_, err = c.dcpControl(ctx, "enable_expiry_opcode", "true")
		if err != nil {
			c.logger.Debug("failed to enable expiry events feature", zap.Error(err))
		}
	}

	return nil
}

func (c *DcpClient) saslAuth(ctx context.Context, username, password string) error {
	mechs, err := syncMemdxCall(ctx, memdx.OpsCore{}, memdx.OpsCore.SASLListMechs, c.cli, &memdx.SASLListMechsRequest{})
	if err != nil {
		// older servers do not implement list-mechs on all ports; fall
		// through and attempt PLAIN directly.
		c.logger.Debug("failed to list sasl mechanisms", zap.Error(err))
	} else {
		c.logger.Debug("server advertised sasl mechanisms",
			zap.Strings("mechs", mechs.AvailableMechs))
	}

	waitCh := make(chan error, 1)
	memdx.OpSaslAuthPlain{
		Username: username,
		Password: password,
	}.Authenticate(c.cli, func(err error) {
		waitCh <- err
	})

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *DcpClient) selectBucket(ctx context.Context, bucketName string) error {
	waitCh := make(chan error, 1)
	op, err := memdx.OpsCore{}.SelectBucket(c.cli, &memdx.SelectBucketRequest{
		BucketName: bucketName,
	}, func(err error) {
		waitCh <- err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		op.Cancel(ctx.Err())
		return <-waitCh
	}
}

func (c *DcpClient) dcpControl(ctx context.Context, key, value string) (*memdx.DcpControlResponse, error) {
	return syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.DcpControl, c.cli, &memdx.DcpControlRequest{
		Key:   key,
		Value: value,
	})
}

func (c *DcpClient) sendBufferAck(ackBytes uint32) error {
	return c.cli.WritePacket(memdx.OpsDcp{}.EncodeDcpBufferAck(&memdx.DcpBufferAckRequest{
		AckBytes: ackBytes,
	}))
}

func (c *DcpClient) Address() string {
	return c.address
}

func (c *DcpClient) FlowController() *FlowController {
	return c.flowControl
}

func (c *DcpClient) OpenStream(ctx context.Context, req *memdx.DcpStreamReqRequest) (*memdx.DcpStreamReqResponse, error) {
	return syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.DcpStreamReq, c.cli, req)
}

func (c *DcpClient) CloseStream(ctx context.Context, vbID uint16) error {
	_, err := syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.DcpCloseStream, c.cli, &memdx.DcpCloseStreamRequest{
		VbucketID: vbID,
	})
	return err
}

func (c *DcpClient) GetFailoverLog(ctx context.Context, vbID uint16) ([]memdx.DcpFailoverEntry, error) {
	resp, err := syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.DcpGetFailoverLog, c.cli, &memdx.DcpGetFailoverLogRequest{
		VbucketID: vbID,
	})
	if err != nil {
		return nil, err
	}
	return resp.FailoverLog, nil
}

func (c *DcpClient) ObserveSeqNo(ctx context.Context, vbID uint16, vbUuid uint64) (*memdx.ObserveSeqNoResponse, error) {
	return syncMemdxCall(ctx, memdx.OpsDcp{}, memdx.OpsDcp.ObserveSeqNo, c.cli, &memdx.ObserveSeqNoRequest{
		VbucketID: vbID,
		VbUuid:    vbUuid,
	})
}

func (c *DcpClient) Close() error {
	c.logger.Info("closing")
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		c.logger.Debug("already closed")
		return nil
	}

	return c.cli.Close()
}

func (c *DcpClient) handleUnsolicitedPacket(pak *memdx.Packet) {
	err := memdx.UnsolicitedOpsParser{}.Handle(pak, &memdx.UnsolicitedOpsHandlers{
		DcpSnapshotMarker: func(evt *memdx.DcpSnapshotMarkerEvent) error {
			if c.handlers.SnapshotMarker == nil {
				return nil
			}
			return c.handlers.SnapshotMarker(c.flowControl, evt)
		},
		DcpMutation: func(evt *memdx.DcpMutationEvent) error {
			if c.handlers.Mutation == nil {
				return nil
			}
			return c.handlers.Mutation(c.flowControl, evt)
		},
		DcpDeletion: func(evt *memdx.DcpDeletionEvent) error {
			if c.handlers.Deletion == nil {
				return nil
			}
			return c.handlers.Deletion(c.flowControl, evt)
		},
		DcpExpiration: func(evt *memdx.DcpExpirationEvent) error {
			if c.handlers.Expiration == nil {
				return nil
			}
			return c.handlers.Expiration(c.flowControl, evt)
		},
		DcpStreamEnd: func(evt *memdx.DcpStreamEndEvent) error {
			if c.handlers.StreamEnd == nil {
				return nil
			}
			return c.handlers.StreamEnd(evt)
		},
		DcpSeqNoAdvanced: func(evt *memdx.DcpSeqNoAdvancedEvent) error {
			if c.handlers.SeqNoAdvanced == nil {
				return nil
			}
			return c.handlers.SeqNoAdvanced(evt)
		},
		DcpNoOp: func(evt *memdx.DcpNoOpEvent) error {
			// keepalives get an immediate empty reply on the same opaque
			return c.cli.WritePacket(&memdx.Packet{
				Magic:  memdx.MagicRes,
				OpCode: memdx.OpCodeDcpNoop,
				Opaque: evt.Opaque,
			})
		},
	})
	if err != nil {
		// unknown control frames are logged and dropped
		c.logger.Info("error handling unsolicited packet",
			zap.Error(err))
	}
}

func (c *DcpClient) handleOrphanResponse(pak *memdx.Packet) {
	c.logger.Info(
		"orphaned response encountered",
		zap.Uint32("opaque", pak.Opaque),
		zap.String("opcode", pak.OpCode.String()),
	)
}
