// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"crypto/tls"
	"net/url"
	"time"
)

// Default values.
const (
	DefaultBroker         = "tcp://localhost:1883"
	DefaultQoS            = 1
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	DefaultQuiesce        = 250 * time.Millisecond
)

// Options configures the MQTT producer.
type Options struct {
	// Connection
	Broker         string      // Broker URL, e.g. tcp://host:1883 or ssl://host:8883
	ClientID       string      // Client identifier; generated when empty
	Username       string      // Username for authentication
	Password       string      // Password for authentication
	TLSConfig      *tls.Config // TLS configuration (nil for plain TCP)
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AutoReconnect  bool

	// Publishing
	Topic          string        // Fallback topic for messages without one
	QoS            byte          // Publish QoS
	Retained       bool          // Publish with the retain flag
	PublishTimeout time.Duration // How long to wait for the publish to complete
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Broker:         DefaultBroker,
		CleanSession:   true,
		KeepAlive:      DefaultKeepAlive,
		ConnectTimeout: DefaultConnectTimeout,
		AutoReconnect:  true,
		QoS:            DefaultQoS,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// SetBroker sets the broker URL.
func (o *Options) SetBroker(broker string) *Options {
	o.Broker = broker
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetTLSConfig sets TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetCleanSession sets the clean session flag.
func (o *Options) SetCleanSession(clean bool) *Options {
	o.CleanSession = clean
	return o
}

// SetKeepAlive sets the keep alive interval.
func (o *Options) SetKeepAlive(d time.Duration) *Options {
	o.KeepAlive = d
	return o
}

// SetConnectTimeout sets the connect timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetAutoReconnect enables or disables automatic reconnection.
func (o *Options) SetAutoReconnect(enable bool) *Options {
	o.AutoReconnect = enable
	return o
}

// SetTopic sets the fallback topic.
func (o *Options) SetTopic(topic string) *Options {
	o.Topic = topic
	return o
}

// SetQoS sets the publish QoS.
func (o *Options) SetQoS(qos byte) *Options {
	o.QoS = qos
	return o
}

// SetRetained sets the retain flag.
func (o *Options) SetRetained(retained bool) *Options {
	o.Retained = retained
	return o
}

// SetPublishTimeout sets the publish timeout.
func (o *Options) SetPublishTimeout(d time.Duration) *Options {
	o.PublishTimeout = d
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.Broker == "" {
		return ErrNoBroker
	}
	if o.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}

// endpoint returns the broker URL with any password in it redacted.
func (o *Options) endpoint() string {
	u, err := url.Parse(o.Broker)
	if err != nil {
		return o.Broker
	}
	return u.Redacted()
}
