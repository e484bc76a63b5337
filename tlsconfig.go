package hdbconnect

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
)

// The TLSConfig helpers build a *tls.Config from one of five trust
// sources. All of them fail before any network I/O: a missing file or an
// unparsable certificate is an interface error, never a connection error.

// WithSystemRoots trusts the operating system's root certificate store.
func WithSystemRoots() (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource, err)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// FromDirectory trusts every PEM certificate found in dir (*.pem).
func FromDirectory(dir string) (*tls.Config, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource, err)
	}
	if len(matches) == 0 {
		return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource+": no *.pem files in "+dir, nil)
	}

	pool := x509.NewCertPool()
	for _, path := range matches {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource+": no certificate in "+path, nil)
		}
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// FromCertificate trusts exactly the given PEM encoded certificate(s).
func FromCertificate(pem []byte) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource+": no certificate in PEM input", nil)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// FromEnvironment trusts the PEM certificate(s) held in the named
// environment variable.
func FromEnvironment(varName string) (*tls.Config, error) {
	pem, ok := os.LookupEnv(varName)
	if !ok || pem == "" {
		return nil, dbsqlerr.NewInterfaceError(nil, dbsqlerr.ErrBadTLSSource+": environment variable "+varName+" not set", nil)
	}
	return FromCertificate([]byte(pem))
}

// Insecure disables server certificate verification. The transport is
// still encrypted but the peer is not authenticated; use only against
// test systems.
func Insecure() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} // #nosec G402
}
