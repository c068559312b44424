package rpc

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type client struct {
	id     string
	conn   *websocket.Conn
	mux    sync.Mutex // To prevent concurrent writes to the connection
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
}

// open registers a new control session under a fresh ULID.
func (s *Server) open(conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     ulid.Make().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	c.log = s.log.WithField("session", c.id)

	s.mux.Lock()
	s.clients[c.id] = c
	s.mux.Unlock()

	c.log.WithField("remote", conn.RemoteAddr().String()).Info("Control session opened")
	return c
}

// close unregisters the session and closes its connection.
func (s *Server) close(c *client) {
	s.mux.Lock()
	delete(s.clients, c.id)
	s.mux.Unlock()

	c.cancel()
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("Closing control connection failed")
	}
	c.log.Info("Control session closed")
}

// sessions returns a snapshot of the open control sessions.
func (s *Server) sessions() []*client {
	s.mux.RLock()
	defer s.mux.RUnlock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

// SessionCount reports how many controllers are connected.
func (s *Server) SessionCount() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.clients)
}
