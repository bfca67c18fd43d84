package server

import "go.uber.org/zap"

// newTestServer builds a server with default configuration and a no-op
// logger, suitable for exercising the registry and channel layers without a
// listener.
func newTestServer() *Server {
	return NewServer(NewConfig(), zap.NewNop())
}

// newTestClient builds a client with no transport. The send queue still
// works, so admission and broadcast paths can be exercised directly.
func newTestClient(srv *Server, channelID string) *Client {
	return newClient(nil, channelID, "test", srv)
}
