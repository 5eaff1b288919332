package device

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/joshp123/plantcare/internal/core"
)

const defaultTopicPrefix = "plantcare/devices"

// MQTTConfig configures command dispatch through a broker.
type MQTTConfig struct {
	Broker       string
	Username     string
	PasswordFile string
	TopicPrefix  string
	ClientID     string
}

type pubsub interface {
	subscribe(topic string, cb func([]byte)) (func(), error)
	publish(topic string, payload []byte) error
}

type mqttCommand struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	IssuedAt  string `json:"issued_at"`
}

type mqttAck struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	CommandID json.RawMessage `json:"command_id"`
	Error     string          `json:"error"`
}

// MQTTDispatcher publishes control actions to {prefix}/{device}/command and
// waits for the matching acknowledgement on {prefix}/{device}/ack.
type MQTTDispatcher struct {
	bus    pubsub
	prefix string
	now    func() time.Time
	close  func()
}

func NewMQTTDispatcher(cfg MQTTConfig) (*MQTTDispatcher, error) {
	opts, err := mqttOptions(cfg)
	if err != nil {
		return nil, err
	}
	mc, err := newMQTTClient(opts)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	d := newMQTTDispatcher(mc, cfg.TopicPrefix)
	d.close = func() { mc.client.Disconnect(250) }
	return d, nil
}

func newMQTTDispatcher(bus pubsub, prefix string) *MQTTDispatcher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &MQTTDispatcher{bus: bus, prefix: prefix, now: time.Now}
}

// Send publishes one action and blocks until it is acknowledged or ctx ends.
func (d *MQTTDispatcher) Send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error) {
	start := time.Now()
	ack, err := d.send(ctx, deviceID, action)
	observe("mqtt_send", start, err)
	return ack, err
}

func (d *MQTTDispatcher) send(ctx context.Context, deviceID string, action core.Action) (core.Ack, error) {
	requestID := uuid.NewString()
	acks := make(chan mqttAck, 1)

	unsubscribe, err := d.bus.subscribe(d.topic(deviceID, "ack"), func(payload []byte) {
		var ack mqttAck
		if err := json.Unmarshal(payload, &ack); err != nil || ack.RequestID != requestID {
			mqttAcksTotal.WithLabelValues("false").Inc()
			return
		}
		mqttAcksTotal.WithLabelValues("true").Inc()
		select {
		case acks <- ack:
		default:
		}
	})
	if err != nil {
		return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.ErrUnreachable, Cause: err}
	}
	defer unsubscribe()

	payload, err := json.Marshal(mqttCommand{
		RequestID: requestID,
		Action:    string(action),
		IssuedAt:  d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return core.Ack{}, err
	}
	if err := d.bus.publish(d.topic(deviceID, "command"), payload); err != nil {
		return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.ErrUnreachable, Cause: err}
	}

	select {
	case <-ctx.Done():
		return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.TransportKind(ctx.Err()), Cause: ctx.Err()}
	case ack := <-acks:
		if ack.Error != "" || strings.EqualFold(ack.Status, "rejected") {
			reason := ack.Error
			if reason == "" {
				reason = ack.Status
			}
			return core.Ack{}, &core.CommandError{Device: deviceID, Action: action, Err: core.ErrRejected, Cause: errors.New(reason)}
		}
		return core.Ack{
			CommandID: controlResponse{CommandID: ack.CommandID}.commandID(),
			Status:    ack.Status,
			At:        d.now(),
		}, nil
	}
}

func (d *MQTTDispatcher) Close() {
	if d.close != nil {
		d.close()
	}
}

func (d *MQTTDispatcher) topic(deviceID, leaf string) string {
	return d.prefix + "/" + deviceID + "/" + leaf
}

func mqttOptions(cfg MQTTConfig) (*mqtt.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	parsed, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqtt broker: %w", err)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid mqtt broker %q", cfg.Broker)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if parsed.Scheme == "ssl" || parsed.Scheme == "tls" || parsed.Scheme == "mqtts" {
		opts.SetTLSConfig(&tls.Config{ServerName: parsed.Hostname()})
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		password, err := readSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt password: %w", err)
		}
		opts.SetPassword(password)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "plantcare-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	return opts, nil
}

type mqttClient struct {
	client mqtt.Client
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

func newMQTTClient(opts *mqtt.ClientOptions) (*mqttClient, error) {
	mc := &mqttClient{subs: make(map[string]map[int]func([]byte))}
	opts.SetDefaultPublishHandler(mc.dispatch)
	opts.OnConnect = func(_ mqtt.Client) {
		mc.resubscribeAll()
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	mc.client = client
	return mc, nil
}

func (c *mqttClient) subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, 1, nil); token.Wait() && token.Error() != nil {
			c.remove(topic, id)
			return nil, token.Error()
		}
	}
	return func() {
		if c.remove(topic, id) {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

// remove drops one callback and reports whether the topic has no listeners left.
func (c *mqttClient) remove(topic string, id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	callbacks := c.subs[topic]
	if callbacks == nil {
		return false
	}
	delete(callbacks, id)
	if len(callbacks) == 0 {
		delete(c.subs, topic)
		return true
	}
	return false
}

func (c *mqttClient) publish(topic string, payload []byte) error {
	if token := c.client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *mqttClient) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *mqttClient) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		_ = c.client.Subscribe(topic, 1, nil).Wait()
	}
}
