package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const basicConfig = `
[Issuer]
  Name = "issuer.example"
  Origins = [ "origin.example" ]
  MaxTokensPerRequest = 3
  RejectOversized = true
  MaxAge = 3600
  SecretKeyFile = "/var/lib/ppissuer/keypair.json"

[KeyStore]
  Backend = "bolt"
  Path = "/var/lib/ppissuer/keys.db"

[NonceStore]
  Backend = "bloom"

[HTTP]
  Address = "127.0.0.1:9000"
  HTTP3Address = "127.0.0.1:9443"
  TLSCertFile = "cert.pem"
  TLSKeyFile = "key.pem"

[Logging]
  Level = "debug"
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(basicConfig))
	require.NoError(t, err)

	require.Equal(t, "issuer.example", cfg.Issuer.Name)
	require.Equal(t, []string{"origin.example"}, cfg.Issuer.Origins)
	require.Equal(t, 3, cfg.Issuer.MaxTokensPerRequest)
	require.True(t, cfg.Issuer.RejectOversized)
	require.Equal(t, 3600, cfg.Issuer.MaxAge)
	require.Equal(t, BackendBolt, cfg.KeyStore.Backend)
	require.Equal(t, BackendBloom, cfg.NonceStore.Backend)
	require.Equal(t, defaultBloomLn2, cfg.NonceStore.BloomLn2)
	require.Equal(t, defaultBloomFalsePositive, cfg.NonceStore.BloomFalsePositiveRate)
	require.True(t, cfg.HTTP.TLS())
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]byte(""))
	require.NoError(t, err)

	require.Equal(t, defaultIssuerName, cfg.Issuer.Name)
	require.Equal(t, []string{defaultOriginName}, cfg.Issuer.Origins)
	require.Equal(t, defaultMaxTokensPerRequest, cfg.Issuer.MaxTokensPerRequest)
	require.Equal(t, BackendMemory, cfg.KeyStore.Backend)
	require.Equal(t, BackendMemory, cfg.NonceStore.Backend)
	require.Equal(t, defaultAddress, cfg.HTTP.Address)
	require.False(t, cfg.HTTP.TLS())
	require.Equal(t, defaultLogLevel, cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	var cases = []struct {
		name string
		body string
	}{
		{"nil", ""},
		{"unknown key", "[Issuer]\nColour = \"blue\"\n"},
		{"cap too large", "[Issuer]\nMaxTokensPerRequest = 70000\n"},
		{"negative max age", "[Issuer]\nMaxAge = -1\n"},
		{"origin with comma", "[Issuer]\nOrigins = [\"a.example,b.example\"]\n"},
		{"bolt without path", "[KeyStore]\nBackend = \"bolt\"\n"},
		{"sealed memory store", "[KeyStore]\nSealingSeedFile = \"seed\"\n"},
		{"unknown nonce backend", "[NonceStore]\nBackend = \"redis\"\n"},
		{"bloom rate", "[NonceStore]\nBackend = \"bloom\"\nBloomFalsePositiveRate = 1.5\n"},
		{"half tls", "[HTTP]\nTLSCertFile = \"cert.pem\"\n"},
		{"http3 without tls", "[HTTP]\nHTTP3Address = \":443\"\n"},
		{"log level", "[Logging]\nLevel = \"LOUD\"\n"},
	}

	for _, c := range cases {
		var b []byte
		if c.name != "nil" {
			b = []byte(c.body)
		}
		_, err := Load(b)
		require.Error(t, err, c.name)
	}
}

func TestLoadFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "ppissuer.toml")
	require.NoError(t, os.WriteFile(f, []byte(basicConfig), 0600))

	cfg, err := LoadFile(f)
	require.NoError(t, err)
	require.Equal(t, "issuer.example", cfg.Issuer.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
