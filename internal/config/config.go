package config

import (
	"crypto/tls"
	"time"
)

// Config holds the resolved connection parameters handed to the wire client.
// It is produced from the public configuration after validation; code below
// the public surface treats it as immutable.
type Config struct {
	Host     string
	Port     int
	Database string // optional tenant database, routed during the handshake

	User     string
	Password string

	// NetworkGroup is a connect-time routing hint forwarded during the
	// initial handshake to influence server-side node selection in
	// clustered deployments. It does not change post-connect behavior.
	NetworkGroup string

	TLSConfig *tls.Config // nil disables TLS

	ConnectTimeout time.Duration

	// FetchSize is the number of rows requested per fetch round-trip.
	FetchSize int32

	// ArrowBatchSize is the target row count of each columnar batch.
	ArrowBatchSize int

	// Application metadata sent to the server for diagnostics.
	ApplicationName    string
	ApplicationVersion string
	ApplicationUser    string
	ApplicationSource  string

	DriverName    string
	DriverVersion string
}

const (
	DefaultPort           = 30015
	DefaultFetchSize      = 32768
	DefaultArrowBatchSize = 65536
	DefaultConnectTimeout = 30 * time.Second
)

func WithDefaults() *Config {
	return &Config{
		Port:           DefaultPort,
		FetchSize:      DefaultFetchSize,
		ArrowBatchSize: DefaultArrowBatchSize,
		ConnectTimeout: DefaultConnectTimeout,
		DriverName:     "hdbconnect-go",
		DriverVersion:  "1.0.0",
	}
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	cp := *c
	cp.TLSConfig = c.TLSConfig.Clone()
	return &cp
}
