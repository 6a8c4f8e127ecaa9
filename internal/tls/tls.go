// Package tls builds the TLS configuration for the control API listener,
// including self-signed certificate generation for local setups.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// Config is the [tls] section of the application configuration.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
}

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func (c *Config) versions() (min uint16, max uint16) {
	min = tls.VersionTLS13
	max = tls.VersionTLS13
	if v, ok := parseVersion(c.MinVersion); ok {
		min = v
	}
	if v, ok := parseVersion(c.MaxVersion); ok {
		max = v
	}
	return
}

// safeReadFile reads file content only from within baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certificateFunc loads the key pair on every handshake so renewed
// certificates are picked up without a restart.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(certPEM, keyPEM)
		return &certificate, err
	}
}

// ServerConfig turns the configuration into a *tls.Config for the API
// server. It returns (nil, nil) when TLS is disabled.
func ServerConfig(c *Config) (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	minVer, maxVer := c.versions()

	if c.CertFile != "" && c.KeyFile != "" {
		return newConfig(c.CertFile, c.KeyFile, minVer, maxVer), nil
	}

	if c.Dir != "" {
		certPath := filepath.Join(c.Dir, tlsCrt)
		keyPath := filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but no certificate configuration found")
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 min version comes from configuration, never below 1.2
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c *Config, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	commonName := c.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := c.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "radiorec",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
