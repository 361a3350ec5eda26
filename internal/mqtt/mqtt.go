package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
)

const (
	keepAlive            = 30 * time.Second
	connectRetryInterval = 2 * time.Second
	publishTimeout       = 5 * time.Second

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Handlers adapts broker callbacks for the rest of the bridge, so nothing
// outside this package sees the paho callback signatures.
type Handlers struct {
	OnConnect        func()
	OnConnectionLost func(error)
	OnMessage        func(topic string, payload []byte)
}

// Client wraps the paho client with the bridge's connection policy:
// auto-reconnect, retry-until-up initial connect, and an availability topic
// (<base>/status online/offline) backed by the broker's last-will.
type Client struct {
	cfg config.MQTTConfig
	log *logger.Logger

	// Handlers must be assigned before Connect.
	Handlers Handlers

	client paho.Client
}

// New builds the client; Connect establishes the link.
func New(cfg config.MQTTConfig, log *logger.Logger) *Client {
	c := &Client{cfg: cfg, log: log}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Pass)
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetOrderMatters(false)
	opts.SetWill(c.statusTopic(), availabilityOffline, byte(cfg.QoS), true)
	opts.SetOnConnectHandler(func(pc paho.Client) {
		c.log.Infow("mqtt connected", "broker", cfg.Host)
		t := pc.Publish(c.statusTopic(), byte(cfg.QoS), true, availabilityOnline)
		go func() {
			t.Wait()
			if t.Error() != nil {
				c.log.Warnw("availability publish failed", "err", t.Error())
			}
		}()
		if c.Handlers.OnConnect != nil {
			c.Handlers.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warnw("mqtt connection lost", "err", err)
		if c.Handlers.OnConnectionLost != nil {
			c.Handlers.OnConnectionLost(err)
		}
	})

	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) statusTopic() string {
	return c.cfg.BaseTopic + "/status"
}

// Connect blocks until the broker accepts us or ctx is canceled. With
// connect-retry enabled the token only resolves on success, so a down broker
// keeps us waiting rather than exiting.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return token.Error()
	}
}

// Publish sends one payload with the configured QoS. Publish errors are
// returned, not fatal: the next scan re-emits changed state.
func (c *Client) Publish(topic, payload string, retain bool) error {
	token := c.client.Publish(topic, byte(c.cfg.QoS), retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a topic filter; inbound messages land on
// Handlers.OnMessage.
func (c *Client) Subscribe(filter string) error {
	token := c.client.Subscribe(filter, byte(c.cfg.QoS), func(_ paho.Client, msg paho.Message) {
		if c.Handlers.OnMessage != nil {
			c.Handlers.OnMessage(msg.Topic(), msg.Payload())
		}
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.log.Infow("subscribed", "filter", filter)
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		t := c.client.Publish(c.statusTopic(), byte(c.cfg.QoS), true, availabilityOffline)
		t.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(250)
}
