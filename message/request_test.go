package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBSONRoundTrip(t *testing.T) {
	req, err := NewRequest("worker-a", "calibration", map[string]any{"x": int32(1), "y": int32(2)})
	require.NoError(t, err)

	encoded, err := req.ToBSON()
	require.NoError(t, err)

	decoded, err := RequestFromBSON(encoded)
	require.NoError(t, err)

	assert.Equal(t, req.UID, decoded.UID)
	assert.Equal(t, req.ClientProcess, decoded.ClientProcess)
	assert.Equal(t, req.ServiceName, decoded.ServiceName)
}

func TestNewRequestRejectsEmptyClientProcess(t *testing.T) {
	_, err := NewRequest("", "", "data")
	assert.Error(t, err)
}

func TestBindRequestBSONRoundTripWithLiveRequest(t *testing.T) {
	req, err := NewRequest("worker-a", "svc", "payload")
	require.NoError(t, err)

	bind := NewBindRequest("svc.*", req)
	encoded, err := bind.ToBSON()
	require.NoError(t, err)

	decoded, err := BindRequestFromBSON(encoded)
	require.NoError(t, err)

	assert.Equal(t, bind.BindKey, decoded.BindKey)
	decodedReq, ok := decoded.Request.(Request)
	require.True(t, ok)
	assert.Equal(t, req.UID, decodedReq.UID)
	assert.Equal(t, req.ClientProcess, decodedReq.ClientProcess)
}

func TestBindRequestBSONRoundTripWithRawRequestBytes(t *testing.T) {
	req, err := NewRequest("worker-b", "", "ping")
	require.NoError(t, err)
	raw, err := req.ToBSON()
	require.NoError(t, err)

	bind := NewBindRequest("worker-b.*", Request{})
	bind.Request = raw

	encoded, err := bind.ToBSON()
	require.NoError(t, err)

	decoded, err := BindRequestFromBSON(encoded)
	require.NoError(t, err)

	decodedReq, ok := decoded.Request.(Request)
	require.True(t, ok)
	assert.Equal(t, req.UID, decodedReq.UID)
}
