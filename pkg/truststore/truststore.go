// Package truststore repairs TLS trust to the coordinator when an operator
// supplies a CA certificate.
//
// A probe request is made with the base client. If it fails certificate
// verification, the CA is added to the active trust anchors and the probe is
// retried once. By default the anchors are an in-memory pool owned by the
// returned client. Setting BundlePath switches to compatibility mode, which
// appends the CA to that bundle file on disk; that change is persistent and
// visible to every other process reading the bundle.
package truststore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"os"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/httpclient"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Adjuster holds the inputs for one trust repair.
type Adjuster struct {
	// CACertPath is the PEM certificate to trust. Empty disables the adjuster.
	CACertPath string
	// BundlePath, when set, is the trust bundle file the CA is appended to.
	BundlePath string
	// Base is the client configuration to derive the repaired client from.
	Base *httpclient.Config
}

// Ensure returns a client that can reach rawURL. It probes only when a CA path is set.
func (a *Adjuster) Ensure(ctx context.Context, rawURL string) (*httpclient.Client, error) {
	log := otelzap.Ctx(ctx)

	base := a.Base
	if base == nil {
		base = httpclient.DefaultConfig()
	}

	client, err := httpclient.NewClient(base)
	if err != nil {
		return nil, jns_err.NewValidationError("invalid HTTP client configuration", err)
	}
	if a.CACertPath == "" {
		return client, nil
	}

	probeErr := probe(ctx, client, rawURL)
	if probeErr == nil {
		log.Debug("Coordinator certificate already trusted", zap.String("url", rawURL))
		return client, nil
	}
	if jns_err.CategoryOf(probeErr) == jns_err.CategoryValidation {
		return nil, probeErr
	}
	if !IsVerificationError(probeErr) {
		return nil, jns_err.NewNetworkError("cannot reach coordinator", probeErr,
			"Check the coordinator URL and that it is reachable from this host")
	}

	log.Info("Coordinator certificate not trusted, adding CA",
		zap.String("ca_cert", a.CACertPath),
		zap.String("bundle", a.BundlePath),
		zap.NamedError("verify_error", probeErr))

	caPEM, err := readCA(a.CACertPath)
	if err != nil {
		return nil, err
	}

	cfg := base.Clone()
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &httpclient.TLSConfig{}
	}
	if a.BundlePath != "" {
		if err := AppendToBundle(a.BundlePath, caPEM); err != nil {
			return nil, err
		}
		cfg.TLSConfig.RootCAs = nil
		cfg.TLSConfig.RootCAFile = a.BundlePath
	} else {
		pool, err := PoolWith(caPEM)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig.RootCAs = pool
	}

	repaired, err := httpclient.NewClient(cfg)
	if err != nil {
		return nil, jns_err.NewValidationError("cannot build client with supplied CA", err)
	}

	if err := probe(ctx, repaired, rawURL); err != nil {
		return nil, jns_err.NewNetworkError("coordinator still unreachable after trusting CA", err,
			"Confirm --ca-cert is the CA that issued the coordinator's certificate",
			"Confirm the URL host matches the certificate's subject names")
	}

	log.Info("Coordinator reachable with supplied CA")
	return repaired, nil
}

// IsVerificationError reports whether err is a certificate verification failure.
func IsVerificationError(err error) bool {
	if err == nil {
		return false
	}
	var unknown x509.UnknownAuthorityError
	var invalid x509.CertificateInvalidError
	var hostname x509.HostnameError
	var verify *tls.CertificateVerificationError
	return cerr.As(err, &unknown) ||
		cerr.As(err, &invalid) ||
		cerr.As(err, &hostname) ||
		cerr.As(err, &verify)
}

// PoolWith returns the system roots plus every certificate in caPEM.
func PoolWith(caPEM []byte) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, jns_err.NewValidationError("CA certificate contains no PEM certificates", nil,
			"Pass a PEM encoded certificate to --ca-cert")
	}
	return pool, nil
}

// AppendToBundle appends a newline and caPEM to the bundle file at path.
func AppendToBundle(path string, caPEM []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return jns_err.NewFilesystemError("cannot open trust bundle", err,
			"Check that --ca-bundle names an existing, writable file")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append([]byte("\n"), caPEM...)); err != nil {
		return jns_err.NewFilesystemError("cannot append to trust bundle", err)
	}
	return nil
}

func readCA(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, jns_err.NewFilesystemError("cannot read CA certificate", err,
			"Check the --ca-cert path")
	}
	if !x509.NewCertPool().AppendCertsFromPEM(data) {
		return nil, jns_err.NewValidationError("CA certificate contains no PEM certificates", nil,
			"Pass a PEM encoded certificate to --ca-cert")
	}
	return data, nil
}

func probe(ctx context.Context, client *httpclient.Client, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return jns_err.NewValidationError("invalid coordinator URL", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
