// Package signing holds the service Ed25519 keypair and the JOSE primitives
// built on it: detached compact signatures and signed JWTs.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var algorithms = []jose.SignatureAlgorithm{jose.EdDSA}

// Signer is immutable after construction and safe for concurrent use.
type Signer struct {
	keyID   string
	public  ed25519.PublicKey
	private ed25519.PrivateKey

	jws jose.Signer
	jwt jose.Signer
}

// New builds a Signer from private. A non-nil public key must match it.
func New(public ed25519.PublicKey, private ed25519.PrivateKey) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}

	derived := private.Public().(ed25519.PublicKey)
	if public != nil && !derived.Equal(public) {
		return nil, fmt.Errorf("public key does not match private key")
	}

	sum := sha256.Sum256(derived)
	s := &Signer{
		keyID:   hex.EncodeToString(sum[:8]),
		public:  derived,
		private: private,
	}

	var err error
	key := jose.SigningKey{Algorithm: jose.EdDSA, Key: private}

	s.jws, err = jose.NewSigner(key, (&jose.SignerOptions{}).WithHeader("kid", s.keyID))
	if err != nil {
		return nil, fmt.Errorf("creating jws signer: %w", err)
	}

	s.jwt, err = jose.NewSigner(key, (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.keyID))
	if err != nil {
		return nil, fmt.Errorf("creating jwt signer: %w", err)
	}

	return s, nil
}

func (s *Signer) KeyID() string { return s.keyID }

func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

// SignDetached returns a compact JWS over payload with the payload segment
// left empty.
func (s *Signer) SignDetached(payload []byte) (string, error) {
	obj, err := s.jws.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}
	sig, err := obj.DetachedCompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing signature: %w", err)
	}
	return sig, nil
}

// VerifyDetached reports whether signature is a valid detached JWS over
// payload made with this keypair.
func (s *Signer) VerifyDetached(payload []byte, signature string) bool {
	obj, err := jose.ParseDetached(signature, payload, algorithms)
	if err != nil {
		return false
	}
	_, err = obj.Verify(s.public)
	return err == nil
}

// SignToken serializes a signed JWT made of the registered claims and any
// number of custom claim objects.
func (s *Signer) SignToken(claims jwt.Claims, custom ...interface{}) (string, error) {
	builder := jwt.Signed(s.jwt).Claims(claims)
	for _, c := range custom {
		builder = builder.Claims(c)
	}

	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// ParseToken verifies the token signature, decodes its claims into out and
// validates the registered claims against expected.
func (s *Signer) ParseToken(token string, expected jwt.Expected, out ...interface{}) (*jwt.Claims, error) {
	parsed, err := jwt.ParseSigned(token, algorithms)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var claims jwt.Claims
	dest := append([]interface{}{&claims}, out...)
	if err := parsed.Claims(s.public, dest...); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := claims.ValidateWithLeeway(expected, 0); err != nil {
		return nil, fmt.Errorf("validating token: %w", err)
	}

	return &claims, nil
}

func (s *Signer) String() string {
	return fmt.Sprintf("signing.Signer{kid=%s}", s.keyID)
}

// MarshalJSON exposes the public half only.
func (s *Signer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		KeyID     string `json:"kid"`
		Algorithm string `json:"alg"`
		PublicKey []byte `json:"public_key"`
	}{
		KeyID:     s.keyID,
		Algorithm: string(jose.EdDSA),
		PublicKey: s.public,
	})
}
