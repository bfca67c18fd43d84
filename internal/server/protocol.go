// Package server defines the frame envelope exchanged with relay clients.
// Inbound frames are peeked at only deep enough to classify them as join
// requests or opaque payloads; payload content is never inspected.
package server

import "encoding/json"

const (
	frameTypeJoin   = "join"
	frameTypeStatus = "status"
)

// envelope is the minimal structure decoded from every inbound frame.
type envelope struct {
	Type string `json:"type"`
}

type joinRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type joinResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type statusUpdate struct {
	Type      string `json:"type"`
	UserCount int    `json:"userCount"`
}

// msgUsernameTaken is the only failure text surfaced to end users.
const msgUsernameTaken = "Username already taken"

func encodeJoinSuccess() []byte {
	data, _ := json.Marshal(joinResponse{Type: frameTypeJoin, Success: true})
	return data
}

func encodeJoinFailure(reason string) []byte {
	data, _ := json.Marshal(joinResponse{Type: frameTypeJoin, Success: false, Message: reason})
	return data
}

func encodeStatus(userCount int) []byte {
	data, _ := json.Marshal(statusUpdate{Type: frameTypeStatus, UserCount: userCount})
	return data
}
