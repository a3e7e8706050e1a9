package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Client publishes decision core events and link status over MQTT. It
// implements pkg.TelemetrySink so it can join the telemetry fan-out; a
// disabled or disconnected client silently drops, the decision path never
// waits on the broker.
type Client struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	connected   bool
	lastPublish time.Time

	// Outbound queue, flushed on a batch interval so a chatty poll loop
	// does not turn into broker chatter
	queueMutex     sync.Mutex
	messageQueue   []*queuedMessage
	maxQueueSize   int
	batchInterval  time.Duration
	lastBatchFlush time.Time

	rateLimiter *rateLimiter
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "roamcored",
		TopicPrefix: "roamcore",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// NewClient creates an MQTT client; call Connect before publishing
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		logger:        logger.WithComponent("mqtt"),
		config:        config,
		messageQueue:  make([]*queuedMessage, 0, 100),
		maxQueueSize:  100,
		batchInterval: 5 * time.Second,
		rateLimiter: &rateLimiter{
			maxMessages: 10,
			windowSize:  1 * time.Second,
		},
	}
}

// Connect establishes the broker connection. A disabled client returns
// nil without connecting.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect flushes pending messages and disconnects
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected {
		c.queueMutex.Lock()
		c.flushMessageQueue()
		c.queueMutex.Unlock()
		c.client.Disconnect(250)
		c.connected = false
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected = true
	c.logger.Info("MQTT connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected = false
	c.logger.Error("MQTT connection lost", "error", err.Error())
}

// RecordEvent implements pkg.TelemetrySink, publishing each event under
// <prefix>/events/<type>
func (c *Client) RecordEvent(event *pkg.Event) {
	if event == nil || !c.config.Enabled {
		return
	}
	topic := fmt.Sprintf("%s/events/%s", c.config.TopicPrefix, event.Type)
	if err := c.Publish(topic, event); err != nil {
		c.logger.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

// IncrementCounter implements pkg.TelemetrySink. Counters stay local;
// Prometheus owns them.
func (c *Client) IncrementCounter(string) {}

// PublishLinkStatus publishes the per-poll link snapshot under
// <prefix>/status
func (c *Client) PublishLinkStatus(status map[string]interface{}) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}
	topic := fmt.Sprintf("%s/status", c.config.TopicPrefix)
	return c.Publish(topic, map[string]interface{}{
		"timestamp": time.Now(),
		"status":    status,
	})
}

// PublishSelection publishes the chosen network under <prefix>/selection
func (c *Client) PublishSelection(chosen *pkg.ChosenNetwork) error {
	if !c.config.Enabled || !c.connected || chosen == nil {
		return nil
	}
	topic := fmt.Sprintf("%s/selection", c.config.TopicPrefix)
	return c.Publish(topic, chosen)
}

// Publish enqueues one JSON message, respecting the rate limit
func (c *Client) Publish(topic string, payload interface{}) error {
	if !c.config.Enabled {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.queueMutex.Lock()
	defer c.queueMutex.Unlock()

	if len(c.messageQueue) >= c.maxQueueSize {
		c.logger.Warn("Message queue full, dropping message", "topic", topic)
		return nil
	}
	c.messageQueue = append(c.messageQueue, &queuedMessage{
		topic:    topic,
		payload:  data,
		enqueued: time.Now(),
	})

	if !c.rateLimiter.allow() {
		return nil
	}
	if len(c.messageQueue) >= c.maxQueueSize || time.Since(c.lastBatchFlush) >= c.batchInterval {
		c.flushMessageQueue()
	}
	return nil
}

// flushMessageQueue publishes all queued messages; callers hold queueMutex
func (c *Client) flushMessageQueue() {
	if len(c.messageQueue) == 0 {
		return
	}
	for _, msg := range c.messageQueue {
		if err := c.publishDirect(msg.topic, msg.payload); err != nil {
			c.logger.Error("Failed to publish queued message", "topic", msg.topic, "error", err)
		}
	}
	c.messageQueue = c.messageQueue[:0]
	c.lastBatchFlush = time.Now()
}

func (c *Client) publishDirect(topic string, payload []byte) error {
	if !c.connected {
		return fmt.Errorf("not connected to MQTT broker")
	}
	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	c.lastPublish = time.Now()
	return nil
}

// IsConnected reports broker connectivity
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil && c.client.IsConnected()
}

// LastPublish returns when the last message went out
func (c *Client) LastPublish() time.Time {
	return c.lastPublish
}

type queuedMessage struct {
	topic    string
	payload  []byte
	enqueued time.Time
}

// rateLimiter caps outbound messages per window
type rateLimiter struct {
	mu           sync.Mutex
	lastCheck    time.Time
	messageCount int
	maxMessages  int
	windowSize   time.Duration
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCheck) >= rl.windowSize {
		rl.messageCount = 0
		rl.lastCheck = now
	}
	if rl.messageCount < rl.maxMessages {
		rl.messageCount++
		return true
	}
	return false
}
