// Package tls builds the server TLS configuration of the daemon, optionally
// generating a self-signed certificate under the data dir.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	caFile   = "ca.crt"
	certFile = "tls.crt"
	keyFile  = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key when no explicit files are given.
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
	// DNSNames and IPAddresses go into a generated certificate.
	DNSNames    []string `mapstructure:"dns_names"`
	IPAddresses []string `mapstructure:"ip_addresses"`
	ValidDays   int      `mapstructure:"valid_days"`
}

// Paths returns the certificate and key the server will load.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	return filepath.Join(c.Dir, certFile), filepath.Join(c.Dir, keyFile)
}

// CAPath is where a generated certificate is also written for clients
// (hamal --ca-cert).
func (c Config) CAPath() string { return filepath.Join(c.Dir, caFile) }

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	case "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported tls min_version %q", v)
}

// Setup returns nil when TLS is disabled. Certificates are re-read on each
// handshake so they can be rotated without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	cert, key := c.Paths()
	if c.CertFile == "" || c.KeyFile == "" {
		if c.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
		}
		if c.AutoGenerate && !exists(cert, key) {
			if err := generate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !exists(cert, key) {
		return nil, fmt.Errorf("tls certificate %s or key %s not found", cert, key)
	}
	// #nosec G402 MinVersion is at least TLS 1.2
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			pair, err := tls.LoadX509KeyPair(cert, key)
			return &pair, err
		},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create tls dir: %w", err)
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	dns := c.DNSNames
	if len(dns) == 0 {
		dns = []string{"localhost"}
	}
	ips := c.IPAddresses
	if len(ips) == 0 {
		ips = []string{"127.0.0.1", "::1"}
	}
	cert, key := c.Paths()
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   dns[0],
		Organization: "hamal",
		DNSNames:     dns,
		IPAddresses:  ips,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     cert,
		KeyPath:      key,
		CACertPath:   c.CAPath(),
	})
}
