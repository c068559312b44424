package gpgnet

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// Handler receives everything the game sends. Calls come from per-session goroutines.
type Handler interface {
	OnGPGNetMessage(msg structs.GPGNetMessage)
	OnGPGNetConnectionChanged(state structs.ConnectionState)
}

// InitMode is the lobby mode passed with CreateLobby.
type InitMode int32

const NormalLobby InitMode = 0

// defaultWriteTimeout bounds a single write to a game connection.
const defaultWriteTimeout = 2 * time.Second

type session struct {
	ID   string
	Conn net.Conn
	Mux  sync.Mutex // To prevent concurrent writes to the connection
}

// Server accepts game connections on the loopback game-control port.
type Server struct {
	listener net.Listener
	mux      sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
	log      *logrus.Entry

	writeTimeout time.Duration
}

// Listen binds the game-control port. Port 0 picks an ephemeral port.
func Listen(port int) (*Server, error) {
	listener, err := net.Listen("tcp4", net.JoinHostPort(constants.LoopbackHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: listener,
		sessions: make(map[string]*session),
		log:      logrus.WithField("component", "gpgnet"),

		writeTimeout: defaultWriteTimeout,
	}
	s.log.WithField("port", s.ListenPort()).Info("GPGNet server listening")
	return s, nil
}

// Serve accepts game connections until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		client := &session{ID: ulid.Make().String(), Conn: conn}
		s.mux.Lock()
		s.sessions[client.ID] = client
		s.mux.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(client, handler)
		}()
	}
}

func (s *Server) handle(client *session, handler Handler) {
	log := s.log.WithField("session", client.ID)
	log.Info("Game connected")
	handler.OnGPGNetConnectionChanged(structs.Connected)

	defer func() {
		s.mux.Lock()
		delete(s.sessions, client.ID)
		s.mux.Unlock()
		client.Conn.Close()

		log.Info("Game disconnected")
		handler.OnGPGNetConnectionChanged(structs.Disconnected)
	}()

	reader := bufio.NewReader(client.Conn)
	for {
		msg, err := ReadMessage(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Error("Reading GPGNet message failed")
			}
			return
		}
		log.WithFields(logrus.Fields{"header": msg.Header, "chunks": msg.Chunks}).Debug("Received GPGNet message")
		handler.OnGPGNetMessage(msg)
	}
}

// ListenPort reports the bound game-control port.
func (s *Server) ListenPort() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// SessionCount reports the number of connected game processes.
func (s *Server) SessionCount() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.sessions)
}

// SendMessage writes a message to every connected game process.
func (s *Server) SendMessage(msg structs.GPGNetMessage) error {
	s.mux.RLock()
	defer s.mux.RUnlock()

	if len(s.sessions) == 0 {
		s.log.WithField("header", msg.Header).Warn("No game connected, dropping GPGNet message")
		return nil
	}

	var err error
	for _, client := range s.sessions {
		err = multierr.Append(err, s.write(client, msg))
	}
	return err
}

// write sends msg to one session. A game that does not read within the write timeout is
// disconnected, since a partially written message cannot be recovered.
func (s *Server) write(client *session, msg structs.GPGNetMessage) error {
	client.Mux.Lock()
	defer client.Mux.Unlock()

	if err := client.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if err := WriteMessage(client.Conn, msg); err != nil {
		s.log.WithError(err).WithField("session", client.ID).Error("Writing to game failed, dropping connection")
		client.Conn.Close()
		return err
	}
	return nil
}

func (s *Server) SendCreateLobby(mode InitMode, port int, login string, id int, natTraversalProvider int) error {
	return s.SendMessage(structs.GPGNetMessage{
		Header: "CreateLobby",
		Chunks: []any{int32(mode), int32(port), login, int32(id), int32(natTraversalProvider)},
	})
}

func (s *Server) SendHostGame(mapName string) error {
	return s.SendMessage(structs.GPGNetMessage{Header: "HostGame", Chunks: []any{mapName}})
}

func (s *Server) SendJoinGame(address string, login string, id int) error {
	return s.SendMessage(structs.GPGNetMessage{Header: "JoinGame", Chunks: []any{address, login, int32(id)}})
}

func (s *Server) SendConnectToPeer(address string, login string, id int) error {
	return s.SendMessage(structs.GPGNetMessage{Header: "ConnectToPeer", Chunks: []any{address, login, int32(id)}})
}

func (s *Server) SendDisconnectFromPeer(id int) error {
	return s.SendMessage(structs.GPGNetMessage{Header: "DisconnectFromPeer", Chunks: []any{int32(id)}})
}

// Close stops accepting and drops every game connection.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mux.RLock()
	for _, client := range s.sessions {
		client.Conn.Close()
	}
	s.mux.RUnlock()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
