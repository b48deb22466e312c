package mqtt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient implements the publish side of mqtt.Client.
type fakeClient struct {
	mqtt.Client
	token        mqtt.Token
	topic        string
	qos          byte
	payload      []byte
	connected    bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return c.token
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func testReceipt() message.Receipt {
	msg := message.Inbound{
		Content:     []byte("hello"),
		Headers:     message.Headers{message.HeaderChecksum: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", message.HeaderFilename: "a.log"},
		DeliveryTag: 4,
	}
	outcome := message.Accept("/out/misc/a.log", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d")
	return message.NewReceipt("session-1", msg, outcome, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
}

func newTestPublisher(client *fakeClient, writeTimeout time.Duration) *Publisher {
	cfg := &config.MQTTConfig{Topic: "hoover/receipts", QoS: 1, WriteTimeout: writeTimeout, DisconnectTimeout: 10}
	return newPublisher(client, cfg, log.NewWithOutput(io.Discard))
}

func TestRecord_PublishesJSON(t *testing.T) {
	client := &fakeClient{token: completedToken(nil)}
	p := newTestPublisher(client, time.Second)

	if err := p.Record(context.Background(), testReceipt()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if client.topic != "hoover/receipts" || client.qos != 1 {
		t.Errorf("published to %s qos %d; want hoover/receipts qos 1", client.topic, client.qos)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(client.payload, &doc); err != nil {
		t.Fatalf("payload is not JSON: %v (%s)", err, client.payload)
	}
	if doc["session"] != "session-1" || doc["action"] != "ack" {
		t.Errorf("payload = %s", client.payload)
	}
}

func TestRecord_PublishError(t *testing.T) {
	client := &fakeClient{token: completedToken(errors.New("not connected"))}
	p := newTestPublisher(client, time.Second)

	err := p.Record(context.Background(), testReceipt())
	if err == nil || !strings.Contains(err.Error(), "mqtt publish failed") {
		t.Errorf("Record() error = %v; want publish failure", err)
	}
}

func TestRecord_Timeout(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	p := newTestPublisher(client, 20*time.Millisecond)

	err := p.Record(context.Background(), testReceipt())
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Record() error = %v; want timeout", err)
	}
}

func TestRecord_ContextCancelled(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	p := newTestPublisher(client, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Record(ctx, testReceipt()); !errors.Is(err, context.Canceled) {
		t.Errorf("Record() error = %v; want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(client, time.Second)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !client.disconnected {
		t.Error("Close() did not disconnect")
	}

	idle := &fakeClient{}
	if err := newTestPublisher(idle, time.Second).Close(); err != nil || idle.disconnected {
		t.Errorf("Close() on disconnected client: err=%v disconnected=%v", err, idle.disconnected)
	}
}

func TestNewPublisher_DefaultWriteTimeout(t *testing.T) {
	p := newTestPublisher(&fakeClient{}, 0)
	if p.writeTimeout != 30*time.Second {
		t.Errorf("writeTimeout = %s; want 30s", p.writeTimeout)
	}
}

func TestUniqueClientID(t *testing.T) {
	id := uniqueClientID("hoover-consumer")
	if !strings.HasPrefix(id, "hoover-consumer-") {
		t.Errorf("uniqueClientID() = %s", id)
	}
	if !strings.HasSuffix(id, "-"+strconv.Itoa(os.Getpid())) {
		t.Errorf("uniqueClientID() = %s; want pid suffix", id)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "hoover",
		Topic:          "hoover/receipts",
		ConnectTimeout: time.Second,
	}
	opts, err := clientOptions(cfg, log.NewWithOutput(io.Discard))
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "localhost:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set with TLS disabled")
	}

	cfg.TLSEnabled = true
	cfg.CACert = "/nonexistent/ca.pem"
	if _, err := clientOptions(cfg, log.NewWithOutput(io.Discard)); err == nil {
		t.Error("clientOptions() error = nil; want TLS error")
	}
}

func writeKeyPair(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "hoover-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	dir := t.TempDir()
	certPath = filepath.Join(dir, "certificate.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

// TestNewTLSConfig_Unit tests TLS configuration without a broker
func TestNewTLSConfig_Unit(t *testing.T) {
	certPath, keyPath := writeKeyPair(t)

	t.Run("ValidTLSWithCA", func(t *testing.T) {
		tlsConfig, err := newTLSConfig(&config.MQTTConfig{TLSEnabled: true, CACert: certPath})
		if err != nil {
			t.Fatalf("Failed to create TLS config: %v", err)
		}
		if tlsConfig.RootCAs == nil {
			t.Error("RootCAs not set")
		}
		if tlsConfig.InsecureSkipVerify {
			t.Error("InsecureSkipVerify should be false by default")
		}
	})

	t.Run("ValidTLSWithClientCert", func(t *testing.T) {
		tlsConfig, err := newTLSConfig(&config.MQTTConfig{TLSEnabled: true, ClientCert: certPath, ClientKey: keyPath})
		if err != nil {
			t.Fatalf("Failed to create TLS config: %v", err)
		}
		if len(tlsConfig.Certificates) == 0 {
			t.Error("Client certificates not loaded")
		}
	})

	t.Run("InsecureSkipVerify", func(t *testing.T) {
		tlsConfig, err := newTLSConfig(&config.MQTTConfig{TLSEnabled: true, InsecureSkip: true})
		if err != nil {
			t.Fatalf("Failed to create TLS config: %v", err)
		}
		if !tlsConfig.InsecureSkipVerify {
			t.Error("InsecureSkipVerify not set")
		}
	})

	t.Run("InvalidCACert", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(bad, []byte("not a certificate"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := newTLSConfig(&config.MQTTConfig{CACert: bad}); err == nil {
			t.Error("Expected error for invalid CA cert")
		}
	})

	t.Run("MismatchedClientCertKey", func(t *testing.T) {
		if _, err := newTLSConfig(&config.MQTTConfig{ClientCert: certPath, ClientKey: certPath}); err == nil {
			t.Error("Expected error for mismatched cert/key")
		}
	})
}
