package signing

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"licensing-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("signing",
	fx.Provide(NewFromConfig),
)

// NewFromConfig resolves the keypair in order: base64 keys from config (or
// Vault), key files in SIGNING.KEY_DIR, then an ephemeral keypair outside
// production.
func NewFromConfig(cfg *config.Config) (*Signer, error) {
	public, private, err := resolveKeypair(cfg)
	if err != nil {
		zap.L().Error("failed to load signing keypair", zap.Error(err))
		return nil, err
	}

	s, err := New(public, private)
	if err != nil {
		return nil, err
	}

	zap.L().Info("signing keypair loaded", zap.String("kid", s.KeyID()))
	return s, nil
}

func resolveKeypair(cfg *config.Config) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if cfg.Signing.PrivateKey != "" {
		private, err := DecodePrivateKey(cfg.Signing.PrivateKey)
		if err != nil {
			return nil, nil, err
		}

		var public ed25519.PublicKey
		if cfg.Signing.PublicKey != "" {
			if public, err = DecodePublicKey(cfg.Signing.PublicKey); err != nil {
				return nil, nil, err
			}
		}
		return public, private, nil
	}

	if dir := cfg.Signing.KeyDir; dir != "" {
		public, private, err := LoadKeypair(dir)
		if err == nil {
			return public, private, nil
		}
		if cfg.IsProduction() {
			return nil, nil, err
		}
		if _, statErr := os.Stat(filepath.Join(dir, privateKeyFile)); statErr == nil {
			return nil, nil, err
		}

		public, private, err = GenerateKeypair()
		if err != nil {
			return nil, nil, err
		}
		if err := SaveKeypair(dir, public, private); err != nil {
			return nil, nil, err
		}
		zap.L().Warn("generated new signing keypair", zap.String("dir", dir))
		return public, private, nil
	}

	if cfg.IsProduction() {
		return nil, nil, errors.New("no signing key configured")
	}

	zap.L().Warn("no signing key configured, using an ephemeral keypair")
	public, private, err := GenerateKeypair()
	if err != nil {
		return nil, nil, fmt.Errorf("ephemeral keypair: %w", err)
	}
	return public, private, nil
}
