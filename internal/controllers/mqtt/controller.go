package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainStatus    bool
	PublishInterval time.Duration

	Username string
	Password string
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	lg  *slog.Logger

	client mqtt.Client
	ctx    context.Context

	mu   sync.Mutex
	last *ports.Status
}

func New(svc ports.ThermostatService, cfg Config, lg *slog.Logger) (*Controller, error) {
	if lg == nil {
		lg = slog.Default()
	}
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "adaptherm/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "adaptherm-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 5 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Controller{
		svc: svc,
		cfg: cfg,
		lg:  lg.With("component", "mqtt"),
		ctx: context.Background(),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		topic := c.topic("set/+")
		token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.lg.Error("subscribe failed", "topic", topic, "err", err)
			return
		}
		c.lg.Info("subscribed", "topic", topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.lg.Warn("connection lost", "err", err)
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Publish loop: status checked on interval, published only when changed.
	// Accepted commands publish right away from onMessage.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	c.publishStatus()
	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishIfChanged()
		}
	}
}

// publishStatus publishes the current zone status unconditionally.
func (c *Controller) publishStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(c.svc.Get())
}

// publishIfChanged publishes the current status unless it equals the last one
// sent, and reports whether it did.
func (c *Controller) publishIfChanged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.svc.Get()
	if c.last != nil && reflect.DeepEqual(s, *c.last) {
		return false
	}
	c.publishLocked(s)
	return true
}

func (c *Controller) publishLocked(s ports.Status) {
	b, err := json.Marshal(s)
	if err != nil {
		c.lg.Error("encode status", "err", err)
		return
	}
	c.client.Publish(c.topic("status"), c.cfg.QoS, c.cfg.RetainStatus, b)
	c.last = &s
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/set/<field>
	t := msg.Topic()
	prefix := c.topic("set/")
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)
	if err := c.dispatch(field, msg.Payload()); err != nil {
		c.lg.Warn("command rejected", "field", field, "err", err)
		return
	}
	c.publishIfChanged()
}

func (c *Controller) dispatch(field string, payload []byte) error {
	switch field {
	case "temperature_setpoint":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.svc.SetSetpoint(c.ctx, v)

	case "mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		m, err := thermostat.ParseMode(s)
		if err != nil {
			return err
		}
		return c.svc.SetMode(c.ctx, m)

	case "current_temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		c.svc.SetCurrentTemperature(v)

	case "outdoor_temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		c.svc.SetOutdoorTemperature(v)

	case "contact_open":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return err
		}
		return c.svc.SetContactOpen(c.ctx, v)

	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
