// Package mqtt bridges the instrument worker to an MQTT broker. Events are
// published as JSON to <prefix>/event/<kind>; messages on
// <prefix>/command/<name> become worker commands.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/OpenTraceLab/OpenTraceBERT/internal/config"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
	keepAlive         = 30 * time.Second
)

// ErrConnectionFailed wraps broker connection failures.
var ErrConnectionFailed = errors.New("mqtt: connection failed")

// Client is the part of the paho client the bridge uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Sender queues a worker command.
type Sender func(ctx context.Context, cmd instrument.Command) error

// Dial connects to the configured broker. The last will marks the bridge
// offline on <prefix>/status.
func Dial(cfg config.MQTTConfig) (pahomqtt.Client, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic(cfg.TopicPrefix), "offline", byte(cfg.QoS), true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}

// Bridge publishes worker events and forwards commands.
type Bridge struct {
	client Client
	prefix string
	qos    byte
	send   Sender
	log    *slog.Logger
	ctx    context.Context
}

// NewBridge returns a bridge over an already connected client.
func NewBridge(client Client, cfg config.MQTTConfig, send Sender, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		client: client,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:    byte(cfg.QoS),
		send:   send,
		log:    log,
		ctx:    context.Background(),
	}
}

// EventTopic returns the topic events of kind are published on.
func (b *Bridge) EventTopic(kind string) string { return b.prefix + "/event/" + kind }

// CommandTopic returns the topic the command called name is read from.
func (b *Bridge) CommandTopic(name string) string { return b.prefix + "/command/" + name }

func statusTopic(prefix string) string { return strings.TrimSuffix(prefix, "/") + "/status" }

// Start subscribes to the command topics and announces the bridge online.
// Commands are sent with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	token := b.client.Subscribe(b.CommandTopic("#"), b.qos, b.onMessage)
	if err := wait(token); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", b.CommandTopic("#"), err)
	}
	if err := wait(b.client.Publish(statusTopic(b.prefix), b.qos, true, "online")); err != nil {
		return fmt.Errorf("mqtt: publish status: %w", err)
	}
	b.log.Info("mqtt bridge started", "prefix", b.prefix)
	return nil
}

// Handle publishes ev. Failures are logged; the event stream keeps flowing.
func (b *Bridge) Handle(ev instrument.Event) {
	if err := b.Publish(ev); err != nil {
		b.log.Warn("mqtt publish failed", "kind", ev.Kind(), "err", err)
	}
}

// Publish sends ev as JSON. Connection and state events are retained so new
// subscribers see the current status.
func (b *Bridge) Publish(ev instrument.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", ev.Kind(), err)
	}
	retained := false
	switch ev.(type) {
	case instrument.ConnectionChanged, instrument.StateChanged:
		retained = true
	}
	return wait(b.client.Publish(b.EventTopic(ev.Kind()), b.qos, retained, payload))
}

// Close announces the bridge offline and disconnects.
func (b *Bridge) Close() {
	if b.client.IsConnected() {
		_ = wait(b.client.Unsubscribe(b.CommandTopic("#")))
		_ = wait(b.client.Publish(statusTopic(b.prefix), b.qos, true, "offline"))
	}
	b.client.Disconnect(disconnectQuiesce)
}

func (b *Bridge) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
		}
	}()
	if err := b.handleCommand(msg.Topic(), msg.Payload()); err != nil {
		b.log.Warn("mqtt command rejected", "topic", msg.Topic(), "err", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name, ok := strings.CutPrefix(topic, b.CommandTopic(""))
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("mqtt: not a command topic: %s", topic)
	}
	cmd, err := instrument.DecodeCommand(name, payload)
	if err != nil {
		return err
	}
	return b.send(b.ctx, cmd)
}

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: timeout after %v", publishTimeout)
	}
	return token.Error()
}
