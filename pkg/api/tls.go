package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSFiles names the PEM files of the admin listener. ClientCA turns on
// mutual TLS.
type TLSFiles struct {
	Cert     string
	Key      string
	ClientCA string
}

func (f TLSFiles) Enabled() bool { return f.Cert != "" }

// ServerTLSConfig builds the listener config, nil when TLS is off.
func ServerTLSConfig(files TLSFiles) (*tls.Config, error) {
	if !files.Enabled() {
		if files.ClientCA != "" {
			return nil, errors.New("client ca requires a server certificate")
		}
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, fmt.Errorf("load cert/key: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if files.ClientCA == "" {
		return cfg, nil
	}
	caData, err := os.ReadFile(files.ClientCA)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("invalid client ca %s", files.ClientCA)
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}
