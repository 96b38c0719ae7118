package godcp

import (
	"context"

	"github.com/couchbase/godcp/memdx"
)

type unaryResult[T any] struct {
	Resp T
	Err  error
}

// syncMemdxCall adapts the callback-style memdx operations into blocking
// calls that observe context cancellation.
func syncMemdxCall[Encoder any, ReqT any, RespT any](
	ctx context.Context,
	e Encoder,
	fn func(Encoder, memdx.Dispatcher, ReqT, func(RespT, error)) (memdx.PendingOp, error),
	d memdx.Dispatcher,
	req ReqT,
) (RespT, error) {
	waitCh := make(chan unaryResult[RespT], 1)

	op, err := fn(e, d, req, func(resp RespT, err error) {
		waitCh <- unaryResult[RespT]{
			Resp: resp,
			Err:  err,
		}
	})
	if err != nil {
		var emptyResp RespT
		return emptyResp, err
	}

	select {
	case res := <-waitCh:
		return res.Resp, res.Err
	case <-ctx.Done():
		op.Cancel(ctx.Err())
		res := <-waitCh
		return res.Resp, res.Err
	}
}
