package godcp

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	defaultFlowControlBufferSize   = 20 * 1024 * 1024
	defaultFlowControlAckThreshold = 0.5
)

// FlowController tracks consumed bytes against a connection's buffer
// size and writes DCP buffer acknowledgements once the configured
// fraction of the buffer has been consumed.
type FlowController struct {
	logger       *zap.Logger
	bufferSize   uint32
	ackWatermark uint32
	sendAck      func(ackBytes uint32) error

	acked atomic.Uint32
}

func NewFlowController(
	bufferSize uint32,
	ackThreshold float64,
	sendAck func(ackBytes uint32) error,
	logger *zap.Logger,
) *FlowController {
	if bufferSize == 0 {
		bufferSize = defaultFlowControlBufferSize
	}
	if ackThreshold <= 0 || ackThreshold > 1 {
		ackThreshold = defaultFlowControlAckThreshold
	}

	return &FlowController{
		logger:       loggerOrNop(logger),
		bufferSize:   bufferSize,
		ackWatermark: uint32(float64(bufferSize) * ackThreshold),
		sendAck:      sendAck,
	}
}

func (c *FlowController) BufferSize() uint32 {
	return c.bufferSize
}

// Ack accounts nbytes of consumed data.  Crossing the watermark flushes
// the accumulated total to the server and resets the counter.
func (c *FlowController) Ack(nbytes uint32) error {
	for {
		acked := c.acked.Load()
		total := acked + nbytes

		if total < c.ackWatermark {
			if c.acked.CompareAndSwap(acked, total) {
				return nil
			}
			continue
		}

		if !c.acked.CompareAndSwap(acked, 0) {
			continue
		}

		bufferAcksSent.Add(context.Background(), 1)
		c.logger.Debug("sending buffer ack",
			zap.Uint32("ackBytes", total))

		return c.sendAck(total)
	}
}

// NewReceipt produces the per-event acknowledgement token for a frame of
// the given wire size.
func (c *FlowController) NewReceipt(size uint32) *FlowControlReceipt {
	return &FlowControlReceipt{
		controller: c,
		size:       size,
	}
}

// FlowControlReceipt acknowledges one data event exactly once; duplicate
// Ack calls are no-ops.  A nil receipt is inert, which keeps events
// usable on connections without flow control.
type FlowControlReceipt struct {
	controller *FlowController
	size       uint32
	acked      atomic.Bool
}

func (r *FlowControlReceipt) Ack() {
	if r == nil {
		return
	}

	if !r.acked.CompareAndSwap(false, true) {
		return
	}

	if err := r.controller.Ack(r.size); err != nil {
		r.controller.logger.Warn("failed to send flow control ack",
			zap.Error(err))
	}
}
