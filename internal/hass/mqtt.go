package hass

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tado-community/tadoxd/internal/config"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Client wraps the paho MQTT client with the connection options the
// bridge needs: LWT on the availability topic, auto-reconnect, and
// retained publishes for discovery configs. Subscriptions are tracked
// so they survive a broker reconnect.
type Client struct {
	client            mqtt.Client
	availabilityTopic string

	mu   sync.Mutex
	subs map[string]func(topic string, payload []byte)
}

func NewClient(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		availabilityTopic: cfg.TopicPrefix + "/status",
		subs:              make(map[string]func(string, []byte)),
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(c.availabilityTopic, availabilityOffline, 1, true)
	opts.OnConnect = c.onConnect

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.client = client
	return c, nil
}

// onConnect runs on the initial connect and every reconnect. The broker
// forgets a clean session's subscriptions, and the LWT has replaced the
// availability payload with offline, so both are restored here.
func (c *Client) onConnect(client mqtt.Client) {
	client.Publish(c.availabilityTopic, 0, true, availabilityOnline)

	c.mu.Lock()
	subs := make(map[string]func(string, []byte), len(c.subs))
	for filter, handler := range c.subs {
		subs[filter] = handler
	}
	c.mu.Unlock()

	for filter, handler := range subs {
		client.Subscribe(filter, 0, messageHandler(handler))
	}
}

func (c *Client) AvailabilityTopic() string {
	return c.availabilityTopic
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if token := c.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Subscribe registers a handler for a topic filter. Wildcards are
// allowed; the handler receives the concrete topic. The subscription is
// recorded and re-established after reconnects.
func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[filter] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(filter, 0, messageHandler(handler))
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() {
	_ = c.Publish(c.availabilityTopic, true, []byte(availabilityOffline))
	c.client.Disconnect(250)
}

func messageHandler(handler func(topic string, payload []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "tadoxd-" + base64.RawURLEncoding.EncodeToString(nonce)
}
