package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"tapline/internal/cluster/tlsutil"
)

// ClusterCerts holds the PEM material backing the C8 peer transport's
// mutual TLS: a CA shared by every node, plus this node's certificate
// signed by it.
type ClusterCerts struct {
	CACertPEM []byte
	CertPEM   []byte
	KeyPEM    []byte
}

// LoadOrBootstrapClusterCerts loads the cluster CA and this node's
// certificate from disk, generating and persisting whichever is
// missing. Every node in a cluster must share the same CA files
// (caCertPath, caKeyPath, copied out of band); node certificate files
// are node-local and freshly issued from that CA on first run.
func LoadOrBootstrapClusterCerts(caCertPath, caKeyPath, nodeCertPath, nodeKeyPath string, extraSANs []string) (ClusterCerts, error) {
	ca, err := loadOrGenerateCA(caCertPath, caKeyPath)
	if err != nil {
		return ClusterCerts{}, err
	}

	nodeCertPEM, nodeKeyPEM, err := loadOrIssueNodeCert(ca, nodeCertPath, nodeKeyPath, extraSANs)
	if err != nil {
		return ClusterCerts{}, err
	}

	return ClusterCerts{CACertPEM: ca.CertPEM, CertPEM: nodeCertPEM, KeyPEM: nodeKeyPEM}, nil
}

func loadOrGenerateCA(certPath, keyPath string) (tlsutil.CAKeyPair, error) {
	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return tlsutil.CAKeyPair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
	}

	ca, err := tlsutil.GenerateCA()
	if err != nil {
		return tlsutil.CAKeyPair{}, fmt.Errorf("cluster: generate CA: %w", err)
	}
	if err := os.WriteFile(certPath, ca.CertPEM, 0o644); err != nil {
		return tlsutil.CAKeyPair{}, fmt.Errorf("cluster: write CA cert: %w", err)
	}
	if err := os.WriteFile(keyPath, ca.KeyPEM, 0o600); err != nil {
		return tlsutil.CAKeyPair{}, fmt.Errorf("cluster: write CA key: %w", err)
	}
	return ca, nil
}

func loadOrIssueNodeCert(ca tlsutil.CAKeyPair, certPath, keyPath string, extraSANs []string) (certPEM, keyPEM []byte, err error) {
	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return certPEM, keyPEM, nil
	}

	cert, err := tlsutil.GenerateClusterCert(ca.CertPEM, ca.KeyPEM, extraSANs)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: generate node cert: %w", err)
	}
	if err := os.WriteFile(certPath, cert.CertPEM, 0o644); err != nil {
		return nil, nil, fmt.Errorf("cluster: write node cert: %w", err)
	}
	if err := os.WriteFile(keyPath, cert.KeyPEM, 0o600); err != nil {
		return nil, nil, fmt.Errorf("cluster: write node key: %w", err)
	}
	return cert.CertPEM, cert.KeyPEM, nil
}

// ServerTLSConfig builds a mutual-TLS server config: it presents this
// node's certificate and requires every connecting peer to present one
// signed by the same cluster CA.
func (c ClusterCerts) ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cluster: parse node keypair: %w", err)
	}
	pool, err := caPool(c.CACertPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds the matching client-side config for outbound
// peer requests: it trusts only the cluster CA and presents this node's
// certificate for mutual authentication.
func (c ClusterCerts) ClientTLSConfig() (*tls.Config, error) {
	cert, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cluster: parse node keypair: %w", err)
	}
	pool, err := caPool(c.CACertPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func caPool(caCertPEM []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCertPEM) {
		return nil, fmt.Errorf("cluster: no valid certificate found in CA PEM")
	}
	return pool, nil
}
