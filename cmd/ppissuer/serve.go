package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	privacypass "github.com/kagisearch/privacypass-lib"
	"github.com/kagisearch/privacypass-lib/config"
	"github.com/kagisearch/privacypass-lib/internal/httpapi"
	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/keystore/boltkeystore"
	"github.com/kagisearch/privacypass-lib/log"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/noncestore/bloomnoncestore"
	"github.com/kagisearch/privacypass-lib/noncestore/boltnoncestore"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the issuer HTTP service",
		Long: `Run the issuer HTTP service. The service answers token challenges,
token requests and token redemptions for the keypair named in the
configuration. SIGHUP reopens the log file.`,
		Example: `  ppissuer serve --config /etc/ppissuer/ppissuer.toml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config file '%v': %w", configFile, err)
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "ppissuer.toml", "path to the configuration file")
	return cmd
}

func openKeyStore(cfg *config.KeyStore) (keystore.KeyStore, io.Closer, error) {
	if cfg.Backend != config.BackendBolt {
		return keystore.NewMemoryKeyStore(), nil, nil
	}

	var opts []boltkeystore.Option
	if cfg.SealingSeedFile != "" {
		b, err := os.ReadFile(cfg.SealingSeedFile)
		if err != nil {
			return nil, nil, err
		}
		seed, err := base64.URLEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid sealing seed: %w", err)
		}
		opts = append(opts, boltkeystore.WithSealingSeed(seed))
	}
	s, err := boltkeystore.New(cfg.Path, opts...)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func openNonceStore(cfg *config.NonceStore) (noncestore.NonceStore, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		s, err := boltnoncestore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendBloom:
		s, err := bloomnoncestore.New(cfg.BloomLn2, cfg.BloomFalsePositiveRate)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return noncestore.NewMemoryNonceStore(), nil, nil
	}
}

func loadKeypair(srv *privacypass.Server, f string) (privacypass.Keypair, error) {
	var kp privacypass.Keypair
	if f == "" {
		return srv.GenerateKeypair()
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return kp, err
	}
	if err := json.Unmarshal(b, &kp); err != nil {
		return kp, fmt.Errorf("invalid keypair file '%v': %w", f, err)
	}
	return kp, nil
}

func runServer(cfg *config.Config) error {
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	defer logBackend.Close()
	logger := logBackend.GetLogger("ppissuer")

	keys, keysCloser, err := openKeyStore(cfg.KeyStore)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	if keysCloser != nil {
		defer keysCloser.Close()
	}
	nonces, noncesCloser, err := openNonceStore(cfg.NonceStore)
	if err != nil {
		return fmt.Errorf("failed to open nonce store: %w", err)
	}
	if noncesCloser != nil {
		defer noncesCloser.Close()
	}

	srv := privacypass.NewServer(keys, nonces, privacypass.WithLogBackend(logBackend))

	kp, err := loadKeypair(srv, cfg.Issuer.SecretKeyFile)
	if err != nil {
		return err
	}
	if cfg.Issuer.SecretKeyFile == "" {
		logger.Warningf("No SecretKeyFile configured, using an ephemeral keypair: %v",
			base64.URLEncoding.EncodeToString(kp.PublicKey))
	}

	handler, err := httpapi.NewHandler(srv, kp, httpapi.Policy{
		IssuerName:      cfg.Issuer.Name,
		Origins:         cfg.Issuer.Origins,
		MaxTokens:       cfg.Issuer.MaxTokensPerRequest,
		RejectOversized: cfg.Issuer.RejectOversized,
		MaxAge:          time.Duration(cfg.Issuer.MaxAge) * time.Second,
	}, logBackend.GetLogger("httpapi"))
	if err != nil {
		return err
	}

	listener := httpapi.NewListener(cfg.HTTP, handler, logBackend.GetLogger("listener"))

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(haltCh)
	defer signal.Stop(rotateCh)

	listener.Start()
	logger.Noticef("Issuer '%v' started.", cfg.Issuer.Name)

	var runErr error
loop:
	for {
		select {
		case <-haltCh:
			logger.Notice("Received shutdown request.")
			break loop
		case <-rotateCh:
			if err := logBackend.Rotate(); err != nil {
				logger.Errorf("Failed to rotate log file: %v", err)
			}
		case runErr = <-listener.Errors():
			logger.Errorf("Listener failed: %v", runErr)
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := listener.Shutdown(ctx); err != nil {
		logger.Warningf("Unclean shutdown: %v", err)
	}
	logger.Notice("Shutdown complete.")
	return runErr
}
