// Package handlers implements the control API methods on top of the session orchestrator.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// ErrMalformed is returned when a method gets missing or ill-typed parameters.
var ErrMalformed = errors.New("malformed parameters")

// Controller is the orchestrator surface the control API drives.
type Controller interface {
	HostGame(ctx context.Context, mapName string) error
	JoinGame(ctx context.Context, remoteLogin string, remoteID int) error
	ConnectToPeer(ctx context.Context, remoteLogin string, remoteID int, createOffer bool) error
	ReconnectToPeer(ctx context.Context, remoteID int) error
	DisconnectFromPeer(ctx context.Context, remoteID int) error
	AddSdpMessage(ctx context.Context, remoteID int, kind string, payload string) error
	SendToGPGNet(ctx context.Context, msg structs.GPGNetMessage) error
	Status(ctx context.Context) (structs.Status, error)
	Quit()
}

// Handler runs one method. params are the positional JSON-RPC parameters.
type Handler func(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error)

// MethodQuit is answered before the orchestrator is stopped.
const MethodQuit = "quit"

// Methods maps every control API method name to its handler.
var Methods = map[string]Handler{
	MethodQuit:           Quit,
	"hostGame":           HostGame,
	"joinGame":           JoinGame,
	"connectToPeer":      ConnectToPeer,
	"reconnectToPeer":    ReconnectToPeer,
	"disconnectFromPeer": DisconnectFromPeer,
	"addSdpMessage":      AddSdpMessage,
	"sendToGpgNet":       SendToGpgNet,
	"status":             Status,
}

const ok = "ok"

var paramValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if label := field.Tag.Get("label"); label != "" {
			return label
		}
		return field.Name
	})
	return v
}

// bind decodes params positionally into targets. The first required targets must be
// present; the rest are optional and keep their current value when absent.
func bind(params []json.RawMessage, usage string, required int, targets ...any) error {
	if len(params) < required || len(params) > len(targets) {
		return fmt.Errorf("%w: %s", ErrMalformed, usage)
	}
	for i, raw := range params {
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformed, usage)
		}
	}
	return nil
}

// check runs the struct validation rules of a parameter set.
func check(params any, usage string) error {
	if err := paramValidator.Struct(params); err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrMalformed, usage, err.Error())
	}
	return nil
}

// done turns a command outcome into a method result.
func done(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return ok, nil
}
