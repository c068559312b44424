package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/adapter"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/gpgnet"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/rpc"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

func parseFlags() structs.Options {
	options := structs.DefaultOptions()
	origins := strings.Join(options.AllowedOrigins, ",")

	flag.IntVar(&options.LocalPlayerID, "id", options.LocalPlayerID, "ID of the local player")
	flag.StringVar(&options.LocalPlayerLogin, "login", options.LocalPlayerLogin, "Login of the local player")
	flag.IntVar(&options.RPCPort, "rpc-port", options.RPCPort, "Port of the JSON-RPC control API")
	flag.IntVar(&options.GPGNetPort, "gpgnet-port", options.GPGNetPort, "Port of the GPGNet game-control server, 0 picks one")
	flag.IntVar(&options.GameUDPPort, "lobby-port", options.GameUDPPort, "UDP port the game listens on for peer traffic")
	flag.IntVar(&options.ICELocalPortMin, "ice-local-port-min", options.ICELocalPortMin, "Lowest local port for relay sockets and ICE candidates")
	flag.IntVar(&options.ICELocalPortMax, "ice-local-port-max", options.ICELocalPortMax, "Highest local port for relay sockets and ICE candidates")
	flag.BoolVar(&options.UseUPnP, "upnp", options.UseUPnP, "Request UPnP port mappings (reported only)")
	flag.StringVar(&options.StunHost, "stun-host", options.StunHost, "STUN server host[:port]")
	flag.StringVar(&options.TurnHost, "turn-host", options.TurnHost, "TURN server host[:port]")
	flag.StringVar(&options.TurnUser, "turn-user", options.TurnUser, "TURN username")
	flag.StringVar(&options.TurnPass, "turn-pass", options.TurnPass, "TURN password")
	flag.StringVar(&options.LogFile, "log-file", options.LogFile, "Also write the log to this file")
	flag.StringVar(&options.LogLevel, "log-level", options.LogLevel, "Log level (trace, debug, info, warn, error)")
	flag.DurationVar(&options.ConnectionTimeout, "connection-timeout", options.ConnectionTimeout, "Time a relay may take to connect before it is marked failed")
	flag.StringVar(&origins, "allowed-origins", origins, "Comma separated origins allowed to open the control API, * matches anything")
	flag.BoolVar(&options.IncludeLoopback, "include-loopback", options.IncludeLoopback, "Gather loopback ICE candidates")
	version := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println(constants.Version)
		os.Exit(0)
	}

	options.AllowedOrigins = nil
	for _, allowed := range strings.Split(origins, ",") {
		if allowed = strings.TrimSpace(allowed); allowed != "" {
			options.AllowedOrigins = append(options.AllowedOrigins, allowed)
		}
	}
	return options
}

// setupLogging applies the level and output options. The returned file is nil unless a
// log file was requested.
func setupLogging(options structs.Options) (*os.File, error) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(options.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	if options.LogFile == "" {
		return nil, nil
	}
	file, err := os.OpenFile(options.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}

func main() {
	options := parseFlags()

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&options); err != nil {
		logrus.WithError(err).Fatal("Invalid options")
	}

	logFile, err := setupLogging(options)
	if err != nil {
		logrus.WithError(err).Fatal("Setting up logging failed")
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logrus.WithFields(logrus.Fields{
		"version": constants.Version,
		"id":      options.LocalPlayerID,
		"login":   options.LocalPlayerLogin,
	}).Info("Starting ICE adapter")

	game, err := gpgnet.Listen(options.GPGNetPort)
	if err != nil {
		logrus.WithError(err).Fatal("Binding the GPGNet port failed")
	}

	control, err := rpc.New(options.AllowedOrigins)
	if err != nil {
		logrus.WithError(err).Fatal("Compiling allowed origins failed")
	}

	a := adapter.New(options, game, control)
	control.Bind(a)

	// Initialize app
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Initialize middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Configure routes
	app.Use("/", control.Upgrader)
	app.Get("/", websocket.New(control.Handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		// Quit over the control API ends the loop and with it the process.
		defer cancel()
		return a.Run(ctx)
	})
	g.Go(func() error {
		return game.Serve(ctx, a)
	})
	g.Go(func() error {
		return app.Listen(net.JoinHostPort(constants.LoopbackHost, strconv.Itoa(options.RPCPort)))
	})
	g.Go(func() error {
		<-ctx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("ICE adapter stopped with an error")
		return
	}
	logrus.Info("ICE adapter stopped")
}
