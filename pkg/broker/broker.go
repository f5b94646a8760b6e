// Package broker is the MQTT adapter between the Rider robot and the
// local state store. It subscribes to the robot's telemetry topics,
// routes inbound payloads into state updates, and exposes the command
// publish surface used by the dashboard.
package broker

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/riderlabs/go-rider/pkg/protocol"
	"github.com/riderlabs/go-rider/pkg/state"
)

// ErrNotConnected is returned when publishing while the broker link is
// down. Commands are not queued; the robot must not replay stale input.
var ErrNotConnected = errors.New("broker: not connected")

const (
	keepAlive        = 60 * time.Second
	pingTimeout      = 1 * time.Second
	maxReconnectWait = 10 * time.Second
	publishTimeout   = 5 * time.Second
	disconnectQuiet  = 250 // ms allowed for in-flight messages on disconnect
)

// FrameHandler receives decoded JPEG frames from the robot camera.
type FrameHandler func(jpeg []byte)

// Adapter wraps the paho client with Rider-specific routing.
type Adapter struct {
	client mqtt.Client
	store  *state.Store
	logger *slog.Logger

	onFrame FrameHandler
}

// New creates an adapter connected to nothing yet. Call Connect to
// dial the broker; paho handles reconnects from then on.
func New(brokerURL string, store *state.Store, logger *slog.Logger) *Adapter {
	a := &Adapter{
		store:  store,
		logger: logger.With("component", "broker"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("rider-pc-%s", uuid.NewString()[:8])).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectWait).
		SetCleanSession(true).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(a.onConnect)
	opts.SetConnectionLostHandler(a.onConnectionLost)
	a.client = mqtt.NewClient(opts)
	return a
}

// Connect dials the broker. Auto-reconnect keeps the session alive
// afterwards; connectivity changes are mirrored into the state store.
func (a *Adapter) Connect() error {
	if token := a.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("broker: connect: %w", token.Error())
	}
	return nil
}

// IsConnected reports transport liveness.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// SetFrameHandler installs the receiver for camera frames. Must be set
// before Connect to avoid dropping early frames.
func (a *Adapter) SetFrameHandler(fn FrameHandler) {
	a.onFrame = fn
}

func (a *Adapter) onConnect(client mqtt.Client) {
	a.logger.Info("connected to broker, subscribing to telemetry")
	a.subscribe(protocol.TopicStatus, a.handleStatus)
	a.subscribe(protocol.TopicBattery, a.handleBattery)
	a.subscribe(protocol.TopicIMU, a.handleIMU)
	a.subscribe(protocol.TopicImageCapture, a.handleImageCapture)
	a.store.SetBrokerConnected(true)
}

func (a *Adapter) onConnectionLost(client mqtt.Client, err error) {
	a.logger.Error("broker connection lost, reconnecting", slog.Any("error", err))
	a.store.SetBrokerConnected(false)
}

func (a *Adapter) subscribe(topic string, handler mqtt.MessageHandler) {
	if token := a.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		a.logger.Error("subscribe failed", "topic", topic, slog.Any("error", token.Error()))
	} else {
		a.logger.Debug("subscribed", "topic", topic)
	}
}

// =============================================================================
// Inbound routing
// =============================================================================

func (a *Adapter) handleBattery(client mqtt.Client, msg mqtt.Message) {
	var p protocol.BatteryPayload
	if err := protocol.Decode(msg.Payload(), &p); err != nil {
		a.dropMalformed(msg, err)
		return
	}
	level, ok := p.Percent()
	if !ok {
		a.dropMalformed(msg, fmt.Errorf("%w: missing battery level", protocol.ErrMalformedPayload))
		return
	}
	a.store.UpdateBattery(level)
}

func (a *Adapter) handleIMU(client mqtt.Client, msg mqtt.Message) {
	var p protocol.IMUPayload
	if err := protocol.Decode(msg.Payload(), &p); err != nil {
		a.dropMalformed(msg, err)
		return
	}
	a.store.UpdateOrientation(state.Orientation{Roll: p.Roll, Pitch: p.Pitch, Yaw: p.Yaw})
}

func (a *Adapter) handleStatus(client mqtt.Client, msg mqtt.Message) {
	var p protocol.StatusPayload
	if err := protocol.Decode(msg.Payload(), &p); err != nil {
		a.dropMalformed(msg, err)
		return
	}
	if err := a.store.UpdateStatus(p.Fields()); err != nil {
		// Rejected as a group: unknown or mistyped field. State untouched.
		a.logger.Warn("status update rejected", "topic", msg.Topic(), slog.Any("error", err))
	}
}

func (a *Adapter) handleImageCapture(client mqtt.Client, msg mqtt.Message) {
	var p protocol.ImageCapturePayload
	if err := protocol.Decode(msg.Payload(), &p); err != nil {
		a.dropMalformed(msg, err)
		return
	}
	jpeg, err := base64.StdEncoding.DecodeString(p.Image)
	if err != nil {
		a.dropMalformed(msg, fmt.Errorf("%w: image data: %v", protocol.ErrMalformedPayload, err))
		return
	}
	if a.onFrame != nil {
		a.onFrame(jpeg)
	}
}

func (a *Adapter) dropMalformed(msg mqtt.Message, err error) {
	a.logger.Warn("dropping malformed payload", "topic", msg.Topic(), slog.Any("error", err))
}

// =============================================================================
// Outbound commands
// =============================================================================

// SendMovement publishes a raw movement command.
func (a *Adapter) SendMovement(x, y float64) error {
	return a.publish(protocol.TopicControlMovement, &protocol.MovementCommand{
		X: x, Y: y, Timestamp: protocol.Now(),
	})
}

// SendSettings publishes a settings command; value may be nil for
// toggle actions.
func (a *Adapter) SendSettings(action string, value any) error {
	return a.publish(protocol.TopicControlSettings, &protocol.SettingsCommand{
		Action: action, Value: value, Timestamp: protocol.Now(),
	})
}

// SendCamera publishes a camera command.
func (a *Adapter) SendCamera(action string) error {
	return a.publish(protocol.TopicControlCamera, &protocol.CameraCommand{
		Action: action, Timestamp: protocol.Now(),
	})
}

// SendSystem publishes a system command.
func (a *Adapter) SendSystem(action string) error {
	return a.publish(protocol.TopicControlSystem, &protocol.SystemCommand{
		Action: action, Timestamp: protocol.Now(),
	})
}

// RequestBattery asks the robot to re-publish its battery level.
func (a *Adapter) RequestBattery() error {
	return a.publish(protocol.TopicRequestBattery, &protocol.SystemCommand{
		Action: "request_battery", Timestamp: protocol.Now(),
	})
}

func (a *Adapter) publish(topic string, v any) error {
	if !a.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	token := a.client.Publish(topic, 1, false, payload)
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			a.logger.Error("publish failed", "topic", topic, slog.Any("error", token.Error()))
		}
	}()
	a.logger.Debug("published", "topic", topic, "payload", string(payload))
	return nil
}

// Close performs a graceful disconnect: the robot is told to stop
// before the link drops, so a dying client can never leave it moving.
func (a *Adapter) Close() {
	if a.client.IsConnected() {
		a.sendSafetyStop()
		time.Sleep(200 * time.Millisecond)
		a.client.Disconnect(disconnectQuiet)
		a.logger.Info("broker disconnected")
	}
	a.store.SetBrokerConnected(false)
}

// sendSafetyStop publishes the shutdown safety commands synchronously.
func (a *Adapter) sendSafetyStop() {
	stop := []struct {
		topic string
		cmd   any
	}{
		{protocol.TopicControlMovement, &protocol.MovementCommand{
			X: 0, Y: 0, Timestamp: protocol.Now(), Source: "disconnect_cleanup",
		}},
		{protocol.TopicControlSystem, &protocol.SystemCommand{
			Action: protocol.ActionEmergencyStop, Timestamp: protocol.Now(), Source: "disconnect_cleanup",
		}},
	}
	for _, s := range stop {
		payload, err := protocol.Encode(s.cmd)
		if err != nil {
			continue
		}
		token := a.client.Publish(s.topic, 1, false, payload)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			a.logger.Warn("safety stop publish failed", "topic", s.topic, slog.Any("error", token.Error()))
		}
	}
	a.logger.Info("safety stop commands sent")
}
