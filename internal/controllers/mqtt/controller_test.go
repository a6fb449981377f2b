package mqttctrl

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/adaptherm/internal/testutil"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	publishes []publishCall
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// ---- tests ----
func newController(t *testing.T, cfg Config) (*Controller, *testutil.FakeThermostatService, *fakeClient) {
	t.Helper()
	svc := testutil.NewFakeThermostatService()
	if cfg.DeviceID == "" {
		cfg.DeviceID = "room101"
	}
	c, err := New(svc, cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	fc := &fakeClient{}
	c.client = fc
	return c, svc, fc
}

func send(c *Controller, field, payload string) {
	c.onMessage(nil, fakeMessage{
		topic:   "adaptherm/room101/set/" + field,
		payload: []byte(payload),
	})
}

func TestNewDefaults(t *testing.T) {
	c, _, _ := newController(t, Config{})

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "adaptherm/room101" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "adaptherm-room101" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 5*time.Second {
		t.Fatalf("expected default PublishInterval, got %v", c.cfg.PublishInterval)
	}
}

func TestNewValidation(t *testing.T) {
	svc := testutil.NewFakeThermostatService()

	if _, err := New(svc, Config{}, nil); err == nil {
		t.Fatal("expected error when DeviceID missing")
	}

	if _, err := New(svc, Config{DeviceID: "x", QoS: 2}, nil); err == nil {
		t.Fatal("expected error when QoS > 1")
	}
}

func TestTopicJoin(t *testing.T) {
	c, _, _ := newController(t, Config{BaseTopic: "adaptherm/room101/"})
	if got := c.topic("status"); got != "adaptherm/room101/status" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeValueStrict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := decodeValueStrict[float64]([]byte(`{"value": 12.5}`))
		if err != nil {
			t.Fatal(err)
		}
		if v != 12.5 {
			t.Fatalf("expected 12.5, got %v", v)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		_, err := decodeValueStrict[bool]([]byte(`{}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":"heat","extra":1}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOnMessage_IgnoresWrongPrefix(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "otherprefix/set/temperature_setpoint",
		payload: []byte(`{"value":22}`),
	})

	if svc.SetSetpointCalled {
		t.Fatal("expected SetSetpoint not called")
	}
}

func TestOnMessage_Setpoint(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "temperature_setpoint", `{"value":23.5}`)

	if !svc.SetSetpointCalled || svc.SetSetpointArg != 23.5 {
		t.Fatalf("expected SetSetpoint(23.5), got called=%v arg=%v", svc.SetSetpointCalled, svc.SetSetpointArg)
	}
}

func TestOnMessage_Mode(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "mode", `{"value":"cool"}`)

	if !svc.SetModeCalled || svc.SetModeArg != thermostat.ModeCool {
		t.Fatalf("expected SetMode(Cool), got called=%v arg=%v", svc.SetModeCalled, svc.SetModeArg)
	}
}

func TestOnMessage_ModeInvalid_DoesNotCallService(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "mode", `{"value":"weird"}`)

	if svc.SetModeCalled {
		t.Fatal("expected SetMode not called")
	}
}

func TestOnMessage_SensorReadings(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "current_temperature", `{"value":18.25}`)
	send(c, "outdoor_temperature", `{"value":-3}`)

	s := svc.Get()
	if s.CurrentTemperature == nil || *s.CurrentTemperature != 18.25 {
		t.Fatalf("expected current temperature 18.25, got %v", s.CurrentTemperature)
	}
	if s.OutdoorTemperature == nil || *s.OutdoorTemperature != -3 {
		t.Fatalf("expected outdoor temperature -3, got %v", s.OutdoorTemperature)
	}
}

func TestOnMessage_ContactOpen(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "contact_open", `{"value":true}`)

	if svc.SetContactOpenArg == nil || !*svc.SetContactOpenArg {
		t.Fatalf("expected SetContactOpen(true), got %v", svc.SetContactOpenArg)
	}
	if !svc.Get().Paused {
		t.Fatal("expected zone paused")
	}
}

func TestOnMessage_WrongPayloadType_DoesNotCallService(t *testing.T) {
	c, svc, _ := newController(t, Config{})

	send(c, "contact_open", `{"value":"yes"}`)

	if svc.SetContactOpenArg != nil {
		t.Fatal("expected SetContactOpen not called")
	}
}

func TestDispatch_UnknownField(t *testing.T) {
	c, _, _ := newController(t, Config{})

	if err := c.dispatch("fan_speed", []byte(`{"value":"high"}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestPublishStatus_PublishesJSON(t *testing.T) {
	c, _, fc := newController(t, Config{QoS: 1, RetainStatus: true})

	c.publishStatus()

	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.publishes))
	}

	p := fc.publishes[0]
	if p.topic != "adaptherm/room101/status" {
		t.Fatalf("expected status topic, got %q", p.topic)
	}
	if p.qos != 1 || p.retain != true {
		t.Fatalf("expected qos=1 retain=true, got qos=%d retain=%v", p.qos, p.retain)
	}

	var got map[string]any
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatalf("invalid published json: %v payload=%s", err, string(p.payload))
	}
	if got["mode"] != "heat" {
		t.Fatalf("expected mode=heat, got %v", got["mode"])
	}
	if got["heating_type"] != "radiator" {
		t.Fatalf("expected heating_type=radiator, got %v", got["heating_type"])
	}
	g, ok := got["gains"].(map[string]any)
	if !ok || g["kp"] != 20.0 {
		t.Fatalf("expected gains.kp=20, got %v", got["gains"])
	}
}

// The controller logs service errors and keeps going.
func TestOnMessage_ServiceError_IsIgnored(t *testing.T) {
	c, svc, _ := newController(t, Config{})
	svc.SetSetpointErr = errors.New("boom")

	send(c, "temperature_setpoint", `{"value":25}`)

	if !svc.SetSetpointCalled {
		t.Fatal("expected SetSetpoint called")
	}
}

func TestOnMessage_AcceptedCommandPublishesStatus(t *testing.T) {
	c, _, fc := newController(t, Config{})

	send(c, "temperature_setpoint", `{"value":22.5}`)
	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish after command, got %d", len(fc.publishes))
	}
	var got map[string]any
	if err := json.Unmarshal(fc.publishes[0].payload, &got); err != nil {
		t.Fatalf("invalid published json: %v", err)
	}
	if got["temperature_setpoint"] != 22.5 {
		t.Fatalf("expected temperature_setpoint=22.5, got %v", got["temperature_setpoint"])
	}

	// same value again: nothing changed, nothing published
	send(c, "temperature_setpoint", `{"value":22.5}`)
	if len(fc.publishes) != 1 {
		t.Fatalf("expected no publish for unchanged status, got %d", len(fc.publishes))
	}
}

func TestOnMessage_RejectedCommandDoesNotPublish(t *testing.T) {
	c, svc, fc := newController(t, Config{})
	svc.SetSetpointErr = thermostat.ErrSetpointOutOfRange

	send(c, "temperature_setpoint", `{"value":99}`)
	send(c, "mode", `{"value":"weird"}`)

	if len(fc.publishes) != 0 {
		t.Fatalf("expected no publish, got %d", len(fc.publishes))
	}
}

func TestPublishIfChanged(t *testing.T) {
	c, svc, fc := newController(t, Config{})

	c.publishStatus()
	if c.publishIfChanged() {
		t.Fatal("expected no publish for unchanged status")
	}

	svc.SetOutdoorTemperature(-7)
	if !c.publishIfChanged() {
		t.Fatal("expected publish after a status change")
	}
	if len(fc.publishes) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(fc.publishes))
	}
}
