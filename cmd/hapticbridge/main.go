package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	hapticbridge "github.com/cbegin/hapticbridge-go"
	"github.com/cbegin/hapticbridge-go/internal/device/intiface"
	"github.com/cbegin/hapticbridge-go/internal/notify"
)

func main() {
	var (
		serverURL     = flag.String("server", "ws://127.0.0.1:12345", "buttplug server websocket URL")
		oscBind       = flag.String("osc-bind", "", "OSC listen address (host:port), overrides settings")
		configDir     = flag.String("config-dir", "", "configuration directory")
		rate          = flag.Uint64("rate", 0, "max device commands per second, overrides settings")
		scan          = flag.Bool("scan", true, "start a device scan on startup")
		notifications = flag.Bool("notifications", false, "desktop notifications on connect/disconnect")
		verbose       = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	if err := run(log, *serverURL, *oscBind, *configDir, *rate, *scan, *notifications); err != nil {
		log.Fatal().Err(err).Msg("bridge failed")
	}
}

func run(log zerolog.Logger, serverURL, oscBind, configDir string, rate uint64, scan, notifications bool) error {
	if configDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			configDir = filepath.Join(dir, "hapticbridge")
		} else {
			configDir = "hapticbridge-config"
		}
	}

	settings, err := hapticbridge.LoadSettings(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return err
	}
	settings.ConfigDir = configDir
	if oscBind != "" {
		host, port, err := splitHostPort(oscBind)
		if err != nil {
			return err
		}
		settings.OSC.BindHost = host
		settings.OSC.BindPort = port
	}
	if rate != 0 {
		settings.MaxCommandsPerSecond = rate
	}
	if notifications {
		settings.DesktopNotifications = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := intiface.Connect(ctx, serverURL, "hapticbridge", log)
	if err != nil {
		return err
	}
	defer client.Close()

	bridge, err := hapticbridge.New(client,
		hapticbridge.WithSettings(settings),
		hapticbridge.WithLogger(log),
		hapticbridge.WithNotifier(notify.NewDesktop("hapticbridge", log)),
	)
	if err != nil {
		return err
	}

	events := bridge.Watch()
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Stop()

	if scan {
		if err := bridge.StartScanning(ctx); err != nil {
			log.Warn().Err(err).Msg("start scanning failed")
		}
	}
	bridge.StartListening()
	log.Info().
		Str("server", serverURL).
		Str("osc", settings.OSC.BindHost).
		Int("port", settings.OSC.BindPort).
		Msg("bridge running, ctrl-c to exit")

	for {
		select {
		case <-ctx.Done():
			bridge.StopListening()
			return nil
		case ev := <-events:
			switch ev.Kind {
			case hapticbridge.EventToyAdd:
				log.Info().
					Str("toy", ev.Toy.Name).
					Uint32("id", ev.Toy.ID).
					Int("features", len(ev.Toy.Features)).
					Str("power", ev.Toy.Power.String()).
					Msg("toy connected")
			case hapticbridge.EventToyRemove:
				log.Info().Uint32("id", ev.ToyID).Msg("toy disconnected")
			case hapticbridge.EventScanStart:
				log.Info().Msg("scan started")
			case hapticbridge.EventScanFinished:
				log.Info().Msg("scan finished")
			}
		}
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
