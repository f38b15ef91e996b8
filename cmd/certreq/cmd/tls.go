package cmd

import (
	"crypto/tls"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/jmcleod/certreq/pki"
)

// selfSignedCert issues a short-lived localhost certificate from a throwaway
// CA. The returned chain includes the CA so clients can pin it.
func selfSignedCert() (tls.Certificate, error) {
	ca, err := pki.NewCA(nil, pkix.Name{CommonName: "certreq runtime CA"}, 24*time.Hour)
	if err != nil {
		return tls.Certificate{}, err
	}
	bundle, err := pki.NewCSR(nil, pkix.Name{CommonName: "localhost"}, []string{"localhost"})
	if err != nil {
		return tls.Certificate{}, err
	}
	defer bundle.Destroy()

	certPEM, err := ca.SignCSR(bundle.CSR, 24*time.Hour)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("signing runtime certificate: %w", err)
	}
	return tls.X509KeyPair([]byte(certPEM+ca.CertificatePEM()), bundle.Key.Bytes())
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, bool, error) {
	var (
		cert       tls.Certificate
		err        error
		selfSigned bool
	)
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = selfSignedCert()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		selfSigned = true
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, selfSigned, nil
}
