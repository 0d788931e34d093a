package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	cerr "github.com/cockroachdb/errors"
)

// SecureTLSConfig creates a TLS configuration that validates certificates. When
// caCertPath is set, the PEM bundle at that path becomes the only root set.
func SecureTLSConfig(caCertPath string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, cerr.Wrapf(err, "failed to read CA certificate from %s", caCertPath)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, cerr.Newf("failed to parse CA certificate from %s", caCertPath)
		}

		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return SecureTLSConfig("")
	}

	var tlsConfig *tls.Config
	if cfg.RootCAs != nil {
		tlsConfig = &tls.Config{RootCAs: cfg.RootCAs}
	} else {
		var err error
		tlsConfig, err = SecureTLSConfig(cfg.RootCAFile)
		if err != nil {
			return nil, err
		}
	}

	tlsConfig.MinVersion = tls.VersionTLS12
	if cfg.MinVersion != 0 {
		tlsConfig.MinVersion = cfg.MinVersion
	}
	// #nosec G402 -- only reachable through an explicit operator setting
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	return tlsConfig, nil
}
