// Package rpc serves the JSON-RPC 2.0 control API over a websocket.
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/rpc/handlers"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/rpc/origin"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

const jsonRPCVersion = "2.0"

// defaultWriteTimeout bounds a single write to a control client.
const defaultWriteTimeout = 2 * time.Second

// ErrMalformed is returned for missing or ill-typed method parameters.
var ErrMalformed = handlers.ErrMalformed

// Server accepts control sessions and dispatches their requests to a Controller.
type Server struct {
	origins         origin.Patterns
	packetValidator *validator.Validate
	controller      handlers.Controller
	mux             sync.RWMutex
	clients         map[string]*client
	log             *logrus.Entry
	writeTimeout    time.Duration
}

// New creates a control API server accepting the given origin globs.
func New(allowedOrigins []string) (*Server, error) {
	patterns, err := origin.Compile(allowedOrigins)
	if err != nil {
		return nil, err
	}
	return &Server{
		origins:         patterns,
		packetValidator: validator.New(validator.WithRequiredStructEnabled()),
		clients:         make(map[string]*client),
		log:             logrus.WithField("component", "rpc"),
		writeTimeout:    defaultWriteTimeout,
	}, nil
}

// Bind sets the controller requests are dispatched to. It must be called before the
// server accepts sessions.
func (s *Server) Bind(controller handlers.Controller) {
	s.controller = controller
}

// AuthorizedOrigins checks whether the upgrade request comes from an allowed origin.
func (s *Server) AuthorizedOrigins(r *fasthttp.Request) bool {
	requestOrigin := string(r.Header.Peek(fiber.HeaderOrigin))
	result := s.origins.Allows(requestOrigin)

	entry := s.log.WithFields(logrus.Fields{"origin": requestOrigin, "host": string(r.Host())})
	if result {
		entry.Debug("Origin permitted to connect")
	} else {
		entry.Warn("Origin was rejected during connect")
	}
	return result
}

// Upgrader rejects requests from unknown origins with ErrForbidden and plain HTTP
// requests with ErrUpgradeRequired.
func (s *Server) Upgrader(c *fiber.Ctx) error {
	if !s.AuthorizedOrigins(c.Request()) {
		return fiber.ErrForbidden
	}

	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}

	return fiber.ErrUpgradeRequired
}

// Handler runs one control session. Requests of a session are executed in order.
func (s *Server) Handler(conn *websocket.Conn) {
	c := s.open(conn)
	defer s.close(c)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("Control session receive error")
			}
			return
		}

		method, response := s.execute(c.ctx, c.log, raw)
		if response != nil {
			if err := send(c, response, s.writeTimeout); err != nil {
				c.log.WithError(err).Warn("Sending response failed")
				return
			}
		}
		if method == handlers.MethodQuit {
			s.controller.Quit()
		}
	}
}

// execute decodes, validates and runs one request. The response is nil for notifications.
func (s *Server) execute(ctx context.Context, log *logrus.Entry, raw []byte) (string, *structs.RPCResponse) {
	var packet structs.RPCPacket
	if err := json.Unmarshal(raw, &packet); err != nil {
		log.WithError(err).Warn("Undecodable control request")
		return "", fail(nil, structs.CodeParseError, "Packet decoding error")
	}

	if err := s.packetValidator.Struct(&packet); err != nil {
		log.WithError(err).Warn("Invalid control request")
		return "", fail(packet.ID, structs.CodeInvalidRequest, err.Error())
	}

	log = log.WithFields(logrus.Fields{"method": packet.Method, "id": packet.ID})
	handler, exists := handlers.Methods[packet.Method]
	if !exists {
		log.Warn("Unknown control method")
		return packet.Method, s.respond(packet.ID, fail(packet.ID, structs.CodeMethodNotFound, "Unknown method: "+packet.Method))
	}

	log.Debug("Executing control request")
	result, err := handler(ctx, s.controller, packet.Params)
	if err != nil {
		log.WithError(err).Warn("Control request failed")
		code := structs.CodeCommandFailed
		if errors.Is(err, ErrMalformed) {
			code = structs.CodeInvalidParams
		}
		return packet.Method, s.respond(packet.ID, fail(packet.ID, code, err.Error()))
	}
	return packet.Method, s.respond(packet.ID, reply(packet.ID, result))
}

// respond drops responses to requests sent as notifications.
func (s *Server) respond(id any, response *structs.RPCResponse) *structs.RPCResponse {
	if id == nil {
		return nil
	}
	return response
}

// Notify broadcasts a notification to every connected controller.
func (s *Server) Notify(method string, params ...any) {
	if params == nil {
		params = []any{}
	}
	clients := s.sessions()
	if len(clients) == 0 {
		s.log.WithField("method", method).Debug("No controller connected, dropping notification")
		return
	}
	broadcast(clients, s.writeTimeout, &structs.RPCNotification{Version: jsonRPCVersion, Method: method, Params: params})
}
