package rpc

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// send writes one JSON document to a control client. A client that does not read within
// timeout is disconnected; its read loop then closes the session.
func send(c *client, message any, timeout time.Duration) error {
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

func reply(id any, result any) *structs.RPCResponse {
	return &structs.RPCResponse{Version: jsonRPCVersion, Result: result, ID: id}
}

func fail(id any, code int, message string) *structs.RPCResponse {
	return &structs.RPCResponse{
		Version: jsonRPCVersion,
		Error:   &structs.RPCError{Code: code, Message: message},
		ID:      id,
	}
}

// broadcast sends message to every client, logging the ones that fail.
func broadcast(clients []*client, timeout time.Duration, message any) {
	for _, c := range clients {
		if err := send(c, message, timeout); err != nil {
			c.log.WithError(err).Warn("Sending notification failed")
		}
	}
}
