// Package oscin is the OSC side of the bridge: a UDP ingest task that
// publishes avatar parameters onto the toy broadcast, and a small sender
// for per-toy data going back to the avatar.
package oscin

import (
	"context"
	"fmt"
	"net"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/dispatch"
	"github.com/cbegin/hapticbridge-go/internal/process"
)

// Networking is the OSC endpoint configuration. Bind is where avatar
// parameters arrive; Remote is where osc_data feedback is sent.
type Networking struct {
	BindHost   string `json:"bind_host"`
	BindPort   int    `json:"bind_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
}

// Defaults fills missing fields with the usual VRChat endpoints.
func (n *Networking) Defaults() {
	if n.BindHost == "" {
		n.BindHost = "127.0.0.1"
	}
	if n.BindPort == 0 {
		n.BindPort = 9001
	}
	if n.RemoteHost == "" {
		n.RemoteHost = "127.0.0.1"
	}
	if n.RemotePort == 0 {
		n.RemotePort = 9000
	}
}

func (n Networking) bindAddr() string {
	return fmt.Sprintf("%s:%d", n.BindHost, n.BindPort)
}

// Ingest is the OSC receive task. It owns a UDP socket and pushes every
// usable message into the broadcast until the broadcast closes or ctx is
// cancelled.
type Ingest struct {
	net   Networking
	bcast *dispatch.Broadcaster
	log   zerolog.Logger
}

func NewIngest(netCfg Networking, bcast *dispatch.Broadcaster, log zerolog.Logger) *Ingest {
	return &Ingest{net: netCfg, bcast: bcast, log: log.With().Str("component", "oscin").Logger()}
}

// Run blocks until shutdown. The socket is closed from a watcher goroutine
// on ctx cancel, which unblocks the receive loop.
func (i *Ingest) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", i.net.bindAddr())
	if err != nil {
		return fmt.Errorf("bind osc socket %s: %w", i.net.bindAddr(), err)
	}
	i.log.Info().Str("addr", i.net.bindAddr()).Msg("listening for osc")

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-watchDone:
		}
		conn.Close()
	}()

	server := &osc.Server{}
	for {
		packet, err := server.ReceivePacket(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			i.log.Warn().Err(err).Msg("osc receive failed")
			return err
		}
		if packet == nil {
			continue
		}
		if !i.publish(packet) {
			// Broadcast closed: the supervisor left listening state.
			i.log.Info().Msg("broadcast closed, osc ingest exiting")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// publish fans a packet's messages into the broadcast, flattening bundles.
// Reports false once the broadcast is closed.
func (i *Ingest) publish(packet osc.Packet) bool {
	switch p := packet.(type) {
	case *osc.Message:
		if sig, ok := SignalFromMessage(p); ok {
			if i.bcast.Closed() {
				return false
			}
			i.bcast.Send(sig)
		}
	case *osc.Bundle:
		for _, msg := range p.Messages {
			if !i.publish(msg) {
				return false
			}
		}
		for _, bundle := range p.Bundles {
			if !i.publish(bundle) {
				return false
			}
		}
	}
	return !i.bcast.Closed()
}

// SignalFromMessage converts one OSC message into a broadcast signal. Only
// the last argument is consumed; float and bool arguments are supported and
// anything else is dropped.
func SignalFromMessage(msg *osc.Message) (dispatch.Signal, bool) {
	if msg == nil || len(msg.Arguments) == 0 {
		return dispatch.Signal{}, false
	}
	switch v := msg.Arguments[len(msg.Arguments)-1].(type) {
	case float32:
		return dispatch.OSCSignal(msg.Address, process.Float(float64(v))), true
	case float64:
		return dispatch.OSCSignal(msg.Address, process.Float(v)), true
	case bool:
		return dispatch.OSCSignal(msg.Address, process.Bool(v)), true
	}
	return dispatch.Signal{}, false
}

// DataSender publishes per-toy values back to the avatar, used by the
// osc_data toggle.
type DataSender struct {
	client *osc.Client
}

func NewDataSender(netCfg Networking) *DataSender {
	return &DataSender{client: osc.NewClient(netCfg.RemoteHost, netCfg.RemotePort)}
}

// SendBattery publishes a toy's battery level under its name and sub id.
func (s *DataSender) SendBattery(name string, subID uint8, level float64) error {
	addr := fmt.Sprintf("/avatar/parameters/hapticbridge/osc_data/%s/%d/battery", name, subID)
	msg := osc.NewMessage(addr)
	msg.Append(float32(level))
	return s.client.Send(msg)
}
