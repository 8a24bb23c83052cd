package main

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophStego/internal/certgen"
	"github.com/atinyakov/GophStego/internal/config"
)

func TestServerTLS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, certgen.WriteDevBundle(dir, []string{"localhost"}, nil))

	opts := config.Defaults()
	opts.TLSCert = filepath.Join(dir, "server.crt")
	opts.TLSKey = filepath.Join(dir, "server.key")
	opts.TLSCA = filepath.Join(dir, "ca.crt")

	cfg, err := serverTLS(opts)
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.ClientCAs)

	opts.TLSCA = filepath.Join(dir, "server.key")
	_, err = serverTLS(opts)
	assert.EqualError(t, err, "append CA cert to pool")

	opts.TLSCert = filepath.Join(dir, "missing.crt")
	_, err = serverTLS(opts)
	assert.ErrorContains(t, err, "load server TLS cert/key")
}
