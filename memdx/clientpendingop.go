package memdx

type clientPendingOp struct {
	client   *Client
	opaqueID uint32
}

func (po clientPendingOp) Cancel(err error) bool {
	return po.client.cancelOp(po.opaqueID, err)
}

type pendingOpNoop struct {
}

func (p pendingOpNoop) Cancel(err error) bool {
	// Since we aren't cancelling anything, we need to return false
	// to indicate that the cancellation failed.
	return false
}
