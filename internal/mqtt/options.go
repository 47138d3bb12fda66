package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	reconnectInitialDelay    = time.Second
	reconnectMaxDelay        = time.Minute
	maxQoS                   = 2
	maxPayloadSize           = 1 << 20

	// Availability payloads understood by Home Assistant.
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Config holds the broker connection settings.
type Config struct {
	Host        string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TLS         bool
	QoS         byte
	StatusTopic string // availability topic; also the Last Will topic
}

// buildClientOptions translates Config into paho options with automatic
// reconnection.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInitialDelay)
	opts.SetMaxReconnectInterval(reconnectMaxDelay)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if cfg.StatusTopic != "" {
		// Published by the broker if we vanish without a clean disconnect.
		opts.SetWill(cfg.StatusTopic, payloadOffline, 1, true)
	}
	return opts
}
