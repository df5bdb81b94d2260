// Package intiface is a Buttplug-protocol websocket client implementing
// the device interfaces the bridge consumes. It talks to an Intiface
// Central (or any Buttplug v3) server.
package intiface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
)

// ErrClientClosed is returned by requests issued after the connection died.
var ErrClientClosed = errors.New("intiface client closed")

const requestTimeout = 10 * time.Second

// Client is one connection to a Buttplug server. Commands multiplex over a
// single websocket; responses are matched to requests by message id.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	pending      map[uint32]chan incoming
	devices      map[uint32]*Device
	nextID       uint32
	eventsClosed bool

	events    chan device.Event
	closeOnce sync.Once
	closed    chan struct{}

	maxPingTime time.Duration
}

// Connect dials a Buttplug server, performs the handshake and requests the
// current device list. Devices already connected to the server surface as
// DeviceAdded events.
func Connect(ctx context.Context, url, clientName string, log zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial buttplug server %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		log:     log.With().Str("component", "intiface").Logger(),
		pending: make(map[uint32]chan incoming),
		devices: make(map[uint32]*Device),
		events:  make(chan device.Event, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()

	info, err := c.handshake(ctx, clientName)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.maxPingTime = time.Duration(info.MaxPingTime) * time.Millisecond
	if c.maxPingTime > 0 {
		go c.pingLoop()
	}
	c.log.Info().Str("server", info.ServerName).Int("version", info.MessageVersion).Msg("connected")
	c.emit(device.Event{Kind: device.EventServerConnect})

	if err := c.requestDeviceList(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context, clientName string) (*serverInfo, error) {
	reply, err := c.request(ctx, "RequestServerInfo", func(id uint32) any {
		return requestServerInfo{ID: id, ClientName: clientName, MessageVersion: messageVersion}
	})
	if err != nil {
		return nil, fmt.Errorf("buttplug handshake: %w", err)
	}
	if reply.kind != "ServerInfo" {
		return nil, fmt.Errorf("buttplug handshake: unexpected reply %s", reply.kind)
	}
	var info serverInfo
	if err := decodePayload(reply, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) requestDeviceList(ctx context.Context) error {
	reply, err := c.request(ctx, "RequestDeviceList", func(id uint32) any {
		return idOnly{ID: id}
	})
	if err != nil {
		return fmt.Errorf("request device list: %w", err)
	}
	var list deviceList
	if err := decodePayload(reply, &list); err != nil {
		return err
	}
	for _, info := range list.Devices {
		c.addDevice(info)
	}
	return nil
}

// Events implements device.Client. The channel closes when the connection
// dies; a ServerDisconnect or PingTimeout event is sent first.
func (c *Client) Events() <-chan device.Event { return c.events }

func (c *Client) StartScanning(ctx context.Context) error {
	_, err := c.request(ctx, "StartScanning", func(id uint32) any { return idOnly{ID: id} })
	return err
}

func (c *Client) StopScanning(ctx context.Context) error {
	_, err := c.request(ctx, "StopScanning", func(id uint32) any { return idOnly{ID: id} })
	return err
}

// Close tears the connection down and closes the event channel.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()

		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		for _, d := range c.devices {
			d.setConnected(false)
		}
		c.eventsClosed = true
		close(c.events)
		c.mu.Unlock()
	})
	return nil
}

func (c *Client) emit(ev device.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// A stalled consumer must not wedge the read loop.
		c.log.Warn().Stringer("kind", ev.Kind).Msg("event dropped, consumer lagging")
	}
}

// request sends one message and waits for the reply carrying the same id.
func (c *Client) request(ctx context.Context, kind string, build func(id uint32) any) (incoming, error) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return incoming{}, ErrClientClosed
	default:
	}
	c.nextID++
	id := c.nextID
	ch := make(chan incoming, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(kind, build(id)); err != nil {
		return incoming{}, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return incoming{}, ErrClientClosed
		}
		if reply.kind == "Error" {
			var se serverError
			if err := decodePayload(reply, &se); err != nil {
				return incoming{}, err
			}
			return incoming{}, &se
		}
		return reply, nil
	case <-ctx.Done():
		return incoming{}, ctx.Err()
	case <-timer.C:
		return incoming{}, fmt.Errorf("buttplug %s: reply timeout", kind)
	}
}

func (c *Client) send(kind string, payload any) error {
	data, err := encodeMessage(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read failed, connection lost")
				c.emit(device.Event{Kind: device.EventServerDisconnect})
			}
			c.Close()
			return
		}
		msgs, err := decodeMessages(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable server frame")
			continue
		}
		for _, msg := range msgs {
			c.handleMessage(msg)
		}
	}
}

func (c *Client) handleMessage(msg incoming) {
	switch msg.kind {
	case "DeviceAdded":
		var info deviceInfo
		if err := decodePayload(msg, &info); err != nil {
			c.log.Warn().Err(err).Msg("bad DeviceAdded")
			return
		}
		c.addDevice(info)
	case "DeviceRemoved":
		var rem deviceRemoved
		if err := decodePayload(msg, &rem); err != nil {
			c.log.Warn().Err(err).Msg("bad DeviceRemoved")
			return
		}
		c.removeDevice(rem.DeviceIndex)
	case "ScanningFinished":
		c.emit(device.Event{Kind: device.EventScanningFinished})
	default:
		// Everything else is a reply to a pending request.
		var id idOnly
		if err := decodePayload(msg, &id); err != nil {
			c.log.Warn().Str("kind", msg.kind).Err(err).Msg("unroutable server message")
			return
		}
		c.mu.Lock()
		ch := c.pending[id.ID]
		c.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func (c *Client) addDevice(info deviceInfo) {
	d := newDevice(c, info)
	c.mu.Lock()
	c.devices[info.DeviceIndex] = d
	c.mu.Unlock()
	c.log.Info().Uint32("index", info.DeviceIndex).Str("name", info.DeviceName).Msg("device added")
	c.emit(device.Event{Kind: device.EventDeviceAdded, Device: d})
}

func (c *Client) removeDevice(index uint32) {
	c.mu.Lock()
	d := c.devices[index]
	delete(c.devices, index)
	c.mu.Unlock()
	if d == nil {
		return
	}
	d.setConnected(false)
	c.log.Info().Uint32("index", index).Msg("device removed")
	c.emit(device.Event{Kind: device.EventDeviceRemoved, Device: d})
}

// pingLoop keeps the server from dropping us; a failed ping is reported as
// a ping timeout, mirroring the server's own behaviour.
func (c *Client) pingLoop() {
	interval := c.maxPingTime / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.maxPingTime)
			_, err := c.request(ctx, "Ping", func(id uint32) any { return idOnly{ID: id} })
			cancel()
			if err != nil && !errors.Is(err, ErrClientClosed) {
				c.log.Warn().Err(err).Msg("ping failed")
				c.emit(device.Event{Kind: device.EventPingTimeout})
				c.Close()
				return
			}
		}
	}
}

func decodePayload(msg incoming, into any) error {
	if err := json.Unmarshal(msg.raw, into); err != nil {
		return fmt.Errorf("decode %s: %w", msg.kind, err)
	}
	return nil
}
