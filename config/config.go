// Package config implements the issuer configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultIssuerName          = "privacy-pass-issuer.kagi.com"
	defaultOriginName          = "privacy-pass-origin.kagi.com"
	defaultMaxTokensPerRequest = 100
	defaultAddress             = "127.0.0.1:8080"
	defaultBloomLn2            = 27
	defaultBloomFalsePositive  = 0.0001
	defaultLogLevel            = "NOTICE"

	// maxTokensPerRequestLimit bounds the per request cap to what a
	// TokenRequest can encode.
	maxTokensPerRequestLimit = 0xFFFF

	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendBloom  = "bloom"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Issuer is the token issuer configuration.
type Issuer struct {
	// Name is the issuer name placed in token challenges.
	Name string

	// Origins is the origin info placed in token challenges.
	Origins []string

	// MaxTokensPerRequest caps the blinded elements evaluated per request.
	// Zero selects the default.
	MaxTokensPerRequest int

	// RejectOversized refuses requests over MaxTokensPerRequest instead of
	// truncating them.
	RejectOversized bool

	// MaxAge is the challenge max-age in seconds, zero to omit it.
	MaxAge int

	// SecretKeyFile is the keypair JSON written by the keygen command.
	SecretKeyFile string
}

func (iCfg *Issuer) applyDefaults() {
	if iCfg.Name == "" {
		iCfg.Name = defaultIssuerName
	}
	if iCfg.Origins == nil {
		iCfg.Origins = []string{defaultOriginName}
	}
	if iCfg.MaxTokensPerRequest == 0 {
		iCfg.MaxTokensPerRequest = defaultMaxTokensPerRequest
	}
}

func (iCfg *Issuer) validate() error {
	if iCfg.MaxTokensPerRequest < 0 || iCfg.MaxTokensPerRequest > maxTokensPerRequestLimit {
		return fmt.Errorf("config: Issuer: MaxTokensPerRequest %d is out of range", iCfg.MaxTokensPerRequest)
	}
	if iCfg.MaxAge < 0 {
		return fmt.Errorf("config: Issuer: MaxAge %d is negative", iCfg.MaxAge)
	}
	for _, o := range iCfg.Origins {
		if o == "" || strings.Contains(o, ",") {
			return fmt.Errorf("config: Issuer: invalid origin '%v'", o)
		}
	}
	return nil
}

// KeyStore is the signing key store configuration.
type KeyStore struct {
	// Backend is the key store backend, "memory" or "bolt".
	Backend string

	// Path is the bolt database file.
	Path string

	// SealingSeedFile, when set, holds the base64 seed of the key used to
	// seal secret keys at rest. Bolt backend only.
	SealingSeedFile string
}

func (kCfg *KeyStore) validate() error {
	switch kCfg.Backend {
	case "":
		kCfg.Backend = BackendMemory
		fallthrough
	case BackendMemory:
		if kCfg.SealingSeedFile != "" {
			return errors.New("config: KeyStore: SealingSeedFile requires the bolt backend")
		}
	case BackendBolt:
		if kCfg.Path == "" {
			return errors.New("config: KeyStore: Path is not set")
		}
	default:
		return fmt.Errorf("config: KeyStore: Backend '%v' is invalid", kCfg.Backend)
	}
	return nil
}

// NonceStore is the spent nonce store configuration.
type NonceStore struct {
	// Backend is the nonce store backend, "memory", "bolt" or "bloom".
	Backend string

	// Path is the bolt database file.
	Path string

	// BloomLn2 is the log2 of the bloom filter size in bits.
	BloomLn2 int

	// BloomFalsePositiveRate is the fraction of fresh tokens the bloom
	// filter may refuse.
	BloomFalsePositiveRate float64
}

func (nCfg *NonceStore) validate() error {
	switch nCfg.Backend {
	case "", BackendMemory:
		nCfg.Backend = BackendMemory
	case BackendBolt:
		if nCfg.Path == "" {
			return errors.New("config: NonceStore: Path is not set")
		}
	case BackendBloom:
		if nCfg.BloomLn2 == 0 {
			nCfg.BloomLn2 = defaultBloomLn2
		}
		if nCfg.BloomFalsePositiveRate == 0 {
			nCfg.BloomFalsePositiveRate = defaultBloomFalsePositive
		}
		if nCfg.BloomFalsePositiveRate < 0 || nCfg.BloomFalsePositiveRate >= 1 {
			return fmt.Errorf("config: NonceStore: BloomFalsePositiveRate %v is out of range", nCfg.BloomFalsePositiveRate)
		}
	default:
		return fmt.Errorf("config: NonceStore: Backend '%v' is invalid", nCfg.Backend)
	}
	return nil
}

// HTTP is the HTTP listener configuration.
type HTTP struct {
	// Address is the HTTP/1.1 listen address.
	Address string

	// HTTP3Address is the HTTP/3 listen address, empty to disable.
	HTTP3Address string

	// TLSCertFile and TLSKeyFile enable TLS. HTTP/3 requires them.
	TLSCertFile string
	TLSKeyFile  string

	// MetricsAddress serves Prometheus metrics, empty to disable.
	MetricsAddress string
}

func (hCfg *HTTP) validate() error {
	if hCfg.Address == "" {
		hCfg.Address = defaultAddress
	}
	if (hCfg.TLSCertFile == "") != (hCfg.TLSKeyFile == "") {
		return errors.New("config: HTTP: TLSCertFile and TLSKeyFile must be set together")
	}
	if hCfg.HTTP3Address != "" && hCfg.TLSCertFile == "" {
		return errors.New("config: HTTP: HTTP3Address requires TLS")
	}
	return nil
}

// TLS reports whether TLS is configured.
func (hCfg *HTTP) TLS() bool {
	return hCfg.TLSCertFile != ""
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Config is the top level issuer configuration.
type Config struct {
	Issuer     *Issuer
	KeyStore   *KeyStore
	NonceStore *NonceStore
	HTTP       *HTTP
	Logging    *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Issuer == nil {
		cfg.Issuer = &Issuer{}
	}
	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStore{}
	}
	if cfg.NonceStore == nil {
		cfg.NonceStore = &NonceStore{}
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &HTTP{}
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}

	cfg.Issuer.applyDefaults()
	if err := cfg.Issuer.validate(); err != nil {
		return err
	}
	if err := cfg.KeyStore.validate(); err != nil {
		return err
	}
	if err := cfg.NonceStore.validate(); err != nil {
		return err
	}
	if err := cfg.HTTP.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
