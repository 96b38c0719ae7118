package memdx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilderBuildsOnce(t *testing.T) {
	b := NewRequestBuilder(OpCodeDcpGetFailoverLog).
		Vbucket(9).
		Key([]byte("k"))

	pak, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, MagicReq, pak.Magic)
	assert.Equal(t, OpCodeDcpGetFailoverLog, pak.OpCode)
	assert.Equal(t, uint16(9), pak.VbucketID)
	assert.Equal(t, []byte("k"), pak.Key)

	_, err = b.Build()
	require.ErrorIs(t, err, ErrIllegalReuse)
}
