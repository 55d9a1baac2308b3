package cluster

import (
	"path/filepath"
	"testing"
)

func TestLoadOrBootstrapClusterCertsGeneratesThenReloads(t *testing.T) {
	dir := t.TempDir()
	caCert := filepath.Join(dir, "ca.crt")
	caKey := filepath.Join(dir, "ca.key")
	nodeCert := filepath.Join(dir, "node.crt")
	nodeKey := filepath.Join(dir, "node.key")

	first, err := LoadOrBootstrapClusterCerts(caCert, caKey, nodeCert, nodeKey, []string{"node1.local"})
	if err != nil {
		t.Fatalf("LoadOrBootstrapClusterCerts (bootstrap): %v", err)
	}
	if len(first.CACertPEM) == 0 || len(first.CertPEM) == 0 || len(first.KeyPEM) == 0 {
		t.Fatal("expected non-empty PEM material on bootstrap")
	}

	second, err := LoadOrBootstrapClusterCerts(caCert, caKey, nodeCert, nodeKey, []string{"node1.local"})
	if err != nil {
		t.Fatalf("LoadOrBootstrapClusterCerts (reload): %v", err)
	}
	if string(second.CACertPEM) != string(first.CACertPEM) {
		t.Fatal("expected CA cert to be reloaded from disk, not regenerated")
	}
	if string(second.CertPEM) != string(first.CertPEM) {
		t.Fatal("expected node cert to be reloaded from disk, not regenerated")
	}
}

func TestClusterCertsBuildMatchingServerAndClientConfigs(t *testing.T) {
	dir := t.TempDir()
	certs, err := LoadOrBootstrapClusterCerts(
		filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"),
		filepath.Join(dir, "node.crt"), filepath.Join(dir, "node.key"),
		nil,
	)
	if err != nil {
		t.Fatalf("LoadOrBootstrapClusterCerts: %v", err)
	}

	serverCfg, err := certs.ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	if len(serverCfg.Certificates) != 1 {
		t.Fatalf("server config certificates = %d, want 1", len(serverCfg.Certificates))
	}
	if serverCfg.ClientCAs == nil {
		t.Fatal("expected server config to require client certs against the cluster CA")
	}

	clientCfg, err := certs.ClientTLSConfig()
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if len(clientCfg.Certificates) != 1 {
		t.Fatalf("client config certificates = %d, want 1", len(clientCfg.Certificates))
	}
	if clientCfg.RootCAs == nil {
		t.Fatal("expected client config to trust the cluster CA")
	}
}

func TestClusterCertsRejectsInvalidCAPEM(t *testing.T) {
	certs := ClusterCerts{CACertPEM: []byte("not a cert"), CertPEM: nil, KeyPEM: nil}
	if _, err := certs.ServerTLSConfig(); err == nil {
		t.Fatal("expected error building server config from invalid keypair/CA")
	}
}
