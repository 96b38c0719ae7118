package godcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchbase/godcp/memdx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEndToEndStreaming(t *testing.T) {
	srv := newFakeMemdServer(t)

	logBuf := make([]byte, 16)
	binary.BigEndian.PutUint64(logBuf[0:], 0xfeed)
	binary.BigEndian.PutUint64(logBuf[8:], 0)
	srv.streamReqHandler = func(req *memdx.Packet) *memdx.Packet {
		return &memdx.Packet{
			Magic:  memdx.MagicRes,
			OpCode: req.OpCode,
			Status: memdx.StatusSuccess,
			Value:  logBuf,
		}
	}

	kvHost, kvPort, err := splitHostPort(srv.Address())
	require.NoError(t, err)

	configBody := fmt.Sprintf(`{
		"rev": 1,
		"name": "default",
		"nodesExt": [
			{"hostname": "%s", "services": {"kv": %d, "mgmt": 8091}}
		],
		"vBucketServerMap": {
			"hashAlgorithm": "CRC",
			"numReplicas": 0,
			"serverList": ["%s"],
			"vBucketMap": [[0],[0],[0],[0]]
		}
	}`+"\n\n\n\n", kvHost, kvPort, srv.Address())

	cfgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(configBody))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		// hold the streaming connection open until the client goes away
		<-r.Context().Done()
	}))
	defer cfgServer.Close()

	snapshotCh := make(chan *SnapshotDetails, 1)
	mutationCh := make(chan *Mutation, 1)
	failoverCh := make(chan *FailoverLog, 1)

	client, err := NewClient(ClientOptions{
		SeedAddresses: []string{cfgServer.Listener.Addr().String()},
		BucketName:    "default",
		Credentials: Credentials{
			Username: "Administrator",
			Password: "password",
		},
		ConfigProviderReconnectDelay: 50 * time.Millisecond,
		Handlers: ChangeEventsHandlers{
			SnapshotDetails: func(evt *SnapshotDetails) {
				snapshotCh <- evt
			},
			Mutation: func(evt *Mutation) {
				mutationCh <- evt
			},
			FailoverLog: func(evt *FailoverLog) {
				failoverCh <- evt
			},
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))
	defer func() {
		_ = client.Stop()
	}()

	assert.Equal(t, 4, client.NumPartitions())

	require.NoError(t, client.StartStream(ctx, 0, StreamOffset{}))

	select {
	case evt := <-failoverCh:
		require.Len(t, evt.Entries, 1)
		assert.Equal(t, uint64(0xfeed), evt.Entries[0].VbUuid)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failover log")
	}

	markerExtras := make([]byte, 20)
	binary.BigEndian.PutUint64(markerExtras[0:], 100)
	binary.BigEndian.PutUint64(markerExtras[8:], 200)
	srv.Push(&memdx.Packet{
		Magic:     memdx.MagicReq,
		OpCode:    memdx.OpCodeDcpSnapshotMarker,
		VbucketID: 0,
		Extras:    markerExtras,
	})

	mutationExtras := make([]byte, 31)
	binary.BigEndian.PutUint64(mutationExtras[0:], 150)
	binary.BigEndian.PutUint64(mutationExtras[8:], 2)
	srv.Push(&memdx.Packet{
		Magic:     memdx.MagicReq,
		OpCode:    memdx.OpCodeDcpMutation,
		VbucketID: 0,
		Cas:       77,
		Extras:    mutationExtras,
		Key:       []byte("a"),
		Value:     []byte("v"),
	})

	select {
	case evt := <-snapshotCh:
		assert.Equal(t, SnapshotMarker{StartSeqNo: 100, EndSeqNo: 200}, evt.Marker)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot details")
	}

	select {
	case evt := <-mutationCh:
		assert.Equal(t, []byte("a"), evt.Key)
		assert.Equal(t, []byte("v"), evt.Value)
		assert.Equal(t, StreamOffset{
			VbUuid:   0xfeed,
			SeqNo:    150,
			Snapshot: SnapshotMarker{StartSeqNo: 100, EndSeqNo: 200},
		}, evt.Offset)

		// the committed offset follows the delivered event
		offset, err := client.conductor.StreamOffsetFor(0)
		require.NoError(t, err)
		assert.Equal(t, uint64(150), offset.SeqNo)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mutation")
	}
}
