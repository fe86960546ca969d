// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/dealer"
	"github.com/arke-messenger/arke/directory"
	"github.com/arke-messenger/arke/issuer"
	"github.com/arke-messenger/arke/registrar"
	"github.com/arke-messenger/arke/server"
	"github.com/arke-messenger/arke/store/service"
)

const (
	testN         = 10
	testThreshold = 3
)

// cluster is a full set of roles on loopback listeners.
type cluster struct {
	dealer    string
	registrar string
	directory string
	store     string
	issuers   []string
}

func serverConfig(t *testing.T, name string) *config.Config {
	return &config.Config{
		Server: &config.Server{
			Identifier: name + ".test",
			Addresses:  []string{"tcp://127.0.0.1:0"},
			DataDir:    filepath.Join(t.TempDir(), name),
		},
		Logging: &config.Logging{Disable: true},
	}
}

func startServer(t *testing.T, cfg *config.Config, fn server.NewHandlerFn) string {
	require.NoError(t, cfg.FixupAndValidate())
	s, err := server.New(cfg, fn)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s.Addresses()[0]
}

// deadAddress returns an address nothing listens on.
func deadAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

// startCluster starts every role with live issuers out of testN; the
// other issuer addresses refuse connections.
func startCluster(t *testing.T, live int) *cluster {
	c := new(cluster)

	cfg := serverConfig(t, "dealer")
	cfg.Dealer = &config.Dealer{N: testN, Threshold: testThreshold, ExposeSecrets: true}
	c.dealer = startServer(t, cfg, dealer.New)

	cfg = serverConfig(t, "registrar")
	cfg.Registrar = &config.Registrar{Dealer: c.dealer}
	c.registrar = startServer(t, cfg, registrar.New)

	for i := 1; i <= testN; i++ {
		if i > live {
			c.issuers = append(c.issuers, deadAddress(t))
			continue
		}
		cfg = serverConfig(t, fmt.Sprintf("issuer%d", i))
		cfg.Issuer = &config.Issuer{Index: uint32(i), Dealer: c.dealer, Registrar: c.registrar}
		c.issuers = append(c.issuers, startServer(t, cfg, issuer.New))
	}

	cfg = serverConfig(t, "directory")
	cfg.Directory = &config.Directory{}
	c.directory = startServer(t, cfg, directory.New)

	cfg = serverConfig(t, "store")
	cfg.Store = &config.Store{Backend: config.BackendMemory}
	c.store = startServer(t, cfg, service.New)
	return c
}

func (c *cluster) clientConfig(t *testing.T, name string) *config.Config {
	cfg := &config.Config{
		Logging: &config.Logging{Disable: true},
		Client: &config.Client{
			DataDir:        filepath.Join(t.TempDir(), name),
			Registrar:      c.registrar,
			Directory:      c.directory,
			Store:          c.store,
			Dealer:         c.dealer,
			Issuers:        c.issuers,
			RequestTimeout: 5000,
			PollInterval:   100,
			Retry:          &config.Retry{MaxAttempts: 2, BaseDelay: 10, MaxDelay: 50},
		},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func (c *cluster) newClient(t *testing.T, name string) *Client {
	cl, err := New(c.clientConfig(t, name), []byte("passphrase for "+name))
	require.NoError(t, err)
	t.Cleanup(cl.Shutdown)
	return cl
}
