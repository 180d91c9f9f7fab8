package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/launchdeck/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "launchdeck-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Connection Tests (no broker required)
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_InvalidQoS(t *testing.T) {
	for _, qos := range []int{-1, 3} {
		cfg := testConfig()
		cfg.QoS = qos
		if _, err := Connect(cfg); !errors.Is(err, ErrInvalidQoS) {
			t.Errorf("Connect(qos=%d) error = %v, want ErrInvalidQoS", qos, err)
		}
	}
}

func TestNilClient(t *testing.T) {
	var c *Client

	if c.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	// A zero Client is never connected, so validation errors must win
	// over ErrNotConnected where they apply.
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard plus", "launchdeck/status/+/1", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard hash", "launchdeck/#", []byte("x"), 1, ErrInvalidTopic},
		{"qos too high", "launchdeck/event/x", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "launchdeck/event/x", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "launchdeck/event/x", []byte("x"), 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "deck", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if opts.ClientID != "launchdeck-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "deck" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "launchdeck-test", 1)

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("expected a retained will")
	}
	if opts.WillTopic != (Topics{}).SystemStatus() {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status systemStatus
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "launchdeck-test" {
		t.Errorf("will = %+v", status)
	}
}

func TestStatusPayload_EscapesClientID(t *testing.T) {
	payload := statusPayload("online", `deck"1`, "")
	var status systemStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("payload %s: %v", payload, err)
	}
	if status.ClientID != `deck"1` {
		t.Errorf("ClientID = %q", status.ClientID)
	}
	if strings.Contains(string(payload), "reason") {
		t.Errorf("empty reason should be omitted: %s", payload)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "launchdeck/system/status"},
		{"instance status", topics.InstanceStatus("ComfyUI", 2), "launchdeck/status/ComfyUI/2"},
		{"all status", topics.AllInstanceStatus(), "launchdeck/status/+/+"},
		{"event", topics.Event("instance_created"), "launchdeck/event/instance_created"},
		{"output", topics.Output("Ollama", "abc"), "launchdeck/output/Ollama/abc"},
		{"separator in type", topics.InstanceStatus("a/b", 1), "launchdeck/status/a_b/1"},
		{"wildcards in type", topics.Output("x+#", "u"), "launchdeck/output/x__/u"},
		{"empty segment", topics.Event(""), "launchdeck/event/_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"launchdeck/system/status", true},
		{"", false},
		{"launchdeck/+/x", false},
		{"launchdeck/#", false},
	}
	for _, tt := range tests {
		if got := validTopic(tt.topic); got != tt.want {
			t.Errorf("validTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}
