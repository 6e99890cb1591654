package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/txerr"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	body, err := DefaultCodec.Encode(GlobalBeginBody{ApplicationID: "orders", TransactionName: "place-order", TimeoutMs: 30000})
	require.NoError(t, err)

	original := &RpcMessage{ID: 7, Type: GlobalBegin, Codec: DefaultCodec.Name(), Body: body}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, original))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Body, decoded.Body)

	var got GlobalBeginBody
	require.NoError(t, DefaultCodec.Decode(decoded.Body, &got))
	assert.Equal(t, "orders", got.ApplicationID)
	assert.Equal(t, int64(30000), got.TimeoutMs)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HeaderSize))
	_, err := ReadFrame(buf)
	require.Error(t, err)
	assert.True(t, txerr.Is(err, txerr.Wire))
}

func TestReadFrameRejectsUnsupportedVersion(t *testing.T) {
	body, _ := DefaultCodec.Encode(GlobalStatusBody{XID: "x"})
	msg := &RpcMessage{ID: 1, Type: GlobalStatus, Body: body}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))

	raw := buf.Bytes()
	raw[2] = Version + 1 // corrupt the version byte in place

	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
	assert.True(t, txerr.Is(err, txerr.Wire))
}

func TestReadFrameRejectsUnknownMessageType(t *testing.T) {
	msg := &RpcMessage{ID: 1, Type: MessageType(250), Body: nil}
	msg.Type = Result // build a valid frame first, then corrupt the type byte

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))
	raw := buf.Bytes()
	raw[3] = 250

	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
	assert.True(t, txerr.Is(err, txerr.Protocol))
}

func TestMessageTypeKnownAndString(t *testing.T) {
	assert.True(t, GlobalBegin.Known())
	assert.True(t, Result.Known())
	assert.False(t, MessageType(99).Known())
	assert.Equal(t, "GlobalCommit", GlobalCommit.String())
	assert.Equal(t, "Unknown", MessageType(99).String())
}
