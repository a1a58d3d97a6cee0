// Package server defines shared frame types and utility helpers that are
// reused across client and hub logic.
package server

import (
	"strings"

	"github.com/gorilla/websocket"
)

// Frame is one outbound WebSocket message. Relayed frames keep the opcode
// they arrived with; roster pushes are always text.
type Frame struct {
	Type int
	Data []byte
}

func textFrame(data []byte) Frame {
	return Frame{Type: websocket.TextMessage, Data: data}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
