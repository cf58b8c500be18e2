// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tailscale/tscert"
)

// buildTLSConfig resolves the server's TLS mode: explicit cert/key
// files, tailscale-issued certificates, or plain HTTP.
func buildTLSConfig(cfg ServerConfig) (*tls.Config, bool, error) {
	if cfg.TLSTailscale {
		// The local tailscaled issues and renews the certificate for
		// this node's MagicDNS name.
		return &tls.Config{GetCertificate: tscert.GetCertificate}, true, nil
	}

	if cfg.TLSCert == "" && cfg.TLSKey == "" {
		return nil, false, nil
	}
	if cfg.TLSCert == "" || cfg.TLSKey == "" {
		return nil, false, fmt.Errorf("api: both tls_cert and tls_key must be specified (got cert=%q, key=%q)", cfg.TLSCert, cfg.TLSKey)
	}

	certPath := expandPath(cfg.TLSCert)
	keyPath := expandPath(cfg.TLSKey)
	if !fileExists(certPath) {
		return nil, false, fmt.Errorf("api: tls_cert file not found: %s", certPath)
	}
	if !fileExists(keyPath) {
		return nil, false, fmt.Errorf("api: tls_key file not found: %s", keyPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, false, fmt.Errorf("api: load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, true, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
