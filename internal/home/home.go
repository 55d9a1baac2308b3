// Package home manages the tapline home directory layout.
//
// The home directory owns all persistent state: config files, user databases,
// and per-store chunk/index directories.
//
// Layout:
//
//	<root>/
//	  config.json   or  config.db     (config store, type-dependent)
//	  users.json                       (user credentials, JSON file store only)
//	  stores/
//	    <store-id>/                    (per-store chunk + index data)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a tapline home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/tapline
//   - macOS:   ~/Library/Application Support/tapline
//   - Windows: %APPDATA%/tapline
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "tapline")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path to the config file for the given store type.
// "json" -> config.json, "sqlite" -> config.db.
func (d Dir) ConfigPath(storeType string) string {
	switch storeType {
	case "json":
		return filepath.Join(d.root, "config.json")
	default:
		return filepath.Join(d.root, "config.db")
	}
}

// UsersPath returns the path to the users JSON file.
func (d Dir) UsersPath() string {
	return filepath.Join(d.root, "users.json")
}

// StoreDir returns the directory for a specific store's chunk/index data.
func (d Dir) StoreDir(storeID string) string {
	return filepath.Join(d.root, "stores", storeID)
}

// ClusterCACertPath returns the path to the cluster mTLS CA certificate,
// shared across every node in a cluster.
func (d Dir) ClusterCACertPath() string {
	return filepath.Join(d.root, "cluster-ca.crt")
}

// ClusterCAKeyPath returns the path to the cluster mTLS CA private key,
// shared across every node in a cluster.
func (d Dir) ClusterCAKeyPath() string {
	return filepath.Join(d.root, "cluster-ca.key")
}

// ClusterNodeCertPath returns the path to this node's cluster mTLS
// certificate, issued by the cluster CA.
func (d Dir) ClusterNodeCertPath() string {
	return filepath.Join(d.root, "cluster-node.crt")
}

// ClusterNodeKeyPath returns the path to this node's cluster mTLS
// private key.
func (d Dir) ClusterNodeKeyPath() string {
	return filepath.Join(d.root, "cluster-node.key")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
