package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutboundFrameWireFormat(t *testing.T) {
	assert.Equal(t, `{"type":"join","success":true}`, string(encodeJoinSuccess()))
	assert.Equal(t,
		`{"type":"join","success":false,"message":"Username already taken"}`,
		string(encodeJoinFailure(msgUsernameTaken)))
	assert.Equal(t, `{"type":"status","userCount":3}`, string(encodeStatus(3)))
	assert.Equal(t, `{"type":"status","userCount":0}`, string(encodeStatus(0)))
}
