// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"crypto/tls"
	"net/url"
	"strings"
	"time"
)

// Default values.
const (
	DefaultAddress          = "localhost:5672"
	DefaultDialTimeout      = 10 * time.Second
	DefaultHeartbeat        = 60 * time.Second
	DefaultConfirmTimeout   = 5 * time.Second
	DefaultReconnectBackoff = 1 * time.Second
	DefaultMaxReconnectWait = 2 * time.Minute
)

// Options configures the AMQP 0.9.1 producer.
type Options struct {
	// Connection
	URL         string      // Full AMQP URL (overrides Address/Username/Password/Vhost)
	Address     string      // Broker address (host:port)
	Username    string      // Username for PLAIN auth
	Password    string      // Password for PLAIN auth
	Vhost       string      // Virtual host (default "/")
	TLSConfig   *tls.Config // TLS configuration (nil for plain TCP)
	DialTimeout time.Duration
	Heartbeat   time.Duration

	// Publishing
	Exchange       string        // Target exchange ("" is the default exchange)
	RoutingKey     string        // Fixed routing key; message topic when empty
	Mandatory      bool          // Ask the broker to return unroutable messages
	Persistent     bool          // Publish with persistent delivery mode
	ConfirmTimeout time.Duration // How long to wait for a publisher confirm

	// Reconnection
	AutoReconnect    bool
	ReconnectBackoff time.Duration
	MaxReconnectWait time.Duration

	// Callbacks
	OnConnect        func()
	OnConnectionLost func(error)
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Address:          DefaultAddress,
		Username:         "guest",
		Password:         "guest",
		Vhost:            "/",
		DialTimeout:      DefaultDialTimeout,
		Heartbeat:        DefaultHeartbeat,
		Persistent:       true,
		ConfirmTimeout:   DefaultConfirmTimeout,
		AutoReconnect:    true,
		ReconnectBackoff: DefaultReconnectBackoff,
		MaxReconnectWait: DefaultMaxReconnectWait,
	}
}

// SetURL sets the full AMQP URL.
func (o *Options) SetURL(u string) *Options {
	o.URL = u
	return o
}

// SetAddress sets the broker address (host:port).
func (o *Options) SetAddress(addr string) *Options {
	o.Address = addr
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetVhost sets the virtual host.
func (o *Options) SetVhost(vhost string) *Options {
	o.Vhost = vhost
	return o
}

// SetTLSConfig sets TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetDialTimeout sets the dial timeout.
func (o *Options) SetDialTimeout(d time.Duration) *Options {
	o.DialTimeout = d
	return o
}

// SetHeartbeat sets the heartbeat interval.
func (o *Options) SetHeartbeat(d time.Duration) *Options {
	o.Heartbeat = d
	return o
}

// SetExchange sets the exchange messages are published to.
func (o *Options) SetExchange(exchange string) *Options {
	o.Exchange = exchange
	return o
}

// SetRoutingKey sets a fixed routing key.
func (o *Options) SetRoutingKey(key string) *Options {
	o.RoutingKey = key
	return o
}

// SetMandatory sets the mandatory publish flag.
func (o *Options) SetMandatory(mandatory bool) *Options {
	o.Mandatory = mandatory
	return o
}

// SetPersistent sets persistent delivery mode.
func (o *Options) SetPersistent(persistent bool) *Options {
	o.Persistent = persistent
	return o
}

// SetConfirmTimeout sets the publisher confirm timeout.
func (o *Options) SetConfirmTimeout(d time.Duration) *Options {
	o.ConfirmTimeout = d
	return o
}

// SetAutoReconnect enables or disables automatic reconnection.
func (o *Options) SetAutoReconnect(enable bool) *Options {
	o.AutoReconnect = enable
	return o
}

// SetReconnectBackoff sets the initial reconnect delay.
func (o *Options) SetReconnectBackoff(d time.Duration) *Options {
	o.ReconnectBackoff = d
	return o
}

// SetMaxReconnectWait sets the maximum reconnect delay.
func (o *Options) SetMaxReconnectWait(d time.Duration) *Options {
	o.MaxReconnectWait = d
	return o
}

// SetOnConnect sets the connection callback.
func (o *Options) SetOnConnect(fn func()) *Options {
	o.OnConnect = fn
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.URL == "" && o.Address == "" {
		return ErrNoAddress
	}
	return nil
}

func (o *Options) dialURL() (string, error) {
	if o.URL != "" {
		return o.URL, nil
	}

	scheme := "amqp"
	if o.TLSConfig != nil {
		scheme = "amqps"
	}

	vhost := strings.TrimPrefix(o.Vhost, "/")
	u := &url.URL{
		Scheme: scheme,
		Host:   o.Address,
		Path:   "/" + vhost,
	}

	if o.Username != "" {
		u.User = url.UserPassword(o.Username, o.Password)
	}

	return u.String(), nil
}

// endpoint returns the dial URL with the password redacted.
func (o *Options) endpoint() string {
	raw, err := o.dialURL()
	if err != nil {
		return o.Address
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
