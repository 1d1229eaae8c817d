package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/signing"

	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"
)

// Issuer is the iss claim of every license token.
const Issuer = "license-management-api"

// Payload is the canonical, signed view of a license. Field order is fixed
// and feature keys are sorted by encoding/json.
type Payload struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	ProductName    string         `json:"productName"`
	CustomerEmail  string         `json:"customerEmail"`
	ExpiryDate     string         `json:"expiryDate"`
	Status         Status         `json:"status"`
	Features       map[string]any `json:"features"`
	CreatedAt      string         `json:"createdAt"`
}

func formatTime(t time.Time) string {
	return normalizeTime(t).Format(time.RFC3339Nano)
}

func PayloadOf(l *License) Payload {
	features := map[string]any(l.Features)
	if features == nil {
		features = map[string]any{}
	}
	return Payload{
		ID:             l.ID,
		OrganizationID: l.OrganizationID,
		ProductName:    l.ProductName,
		CustomerEmail:  l.CustomerEmail,
		ExpiryDate:     formatTime(l.ExpiresAt),
		Status:         l.Status,
		Features:       features,
		CreatedAt:      formatTime(l.CreatedAt),
	}
}

// CanonicalPayload returns the bytes covered by the license signature.
func CanonicalPayload(l *License) ([]byte, error) {
	return json.Marshal(PayloadOf(l))
}

// equal compares two payloads by their canonical encoding.
func (p Payload) equal(other Payload) bool {
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && string(a) == string(b)
}

// TokenClaims are the decoded claims of a license token.
type TokenClaims struct {
	Registered jwt.Claims `json:"registered"`
	License    Payload    `json:"license"`
}

type Signer struct {
	keys *signing.Signer
	now  func() time.Time
}

func NewSigner(keys *signing.Signer) *Signer {
	return &Signer{
		keys: keys,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func signingFailure(msg string, err error) error {
	zap.L().Error(msg, zap.Error(err))
	return errutil.Internal(msg, fmt.Errorf("%w: %v", errutil.ErrSigningFailure, err))
}

// Sign returns a detached compact JWS over the canonical payload.
func (s *Signer) Sign(l *License) (string, error) {
	payload, err := CanonicalPayload(l)
	if err != nil {
		return "", signingFailure("failed to encode license payload", err)
	}

	sig, err := s.keys.SignDetached(payload)
	if err != nil {
		return "", signingFailure("failed to sign license", err)
	}
	return sig, nil
}

// Verify recomputes the canonical payload from the current state of l, so a
// signature made before any later change fails.
func (s *Signer) Verify(l *License, signature string) (bool, error) {
	if l == nil {
		return false, errutil.BadRequest("license is required", errutil.ErrInvalidArgument)
	}
	if strings.TrimSpace(signature) == "" {
		return false, errutil.BadRequest("signature is required", errutil.ErrInvalidArgument)
	}

	payload, err := CanonicalPayload(l)
	if err != nil {
		return false, nil
	}
	return s.keys.VerifyDetached(payload, signature), nil
}

// Token issues a signed JWT carrying the canonical payload as claims.
func (s *Signer) Token(l *License) (string, error) {
	claims := jwt.Claims{
		Subject:  l.ID,
		Issuer:   Issuer,
		IssuedAt: jwt.NewNumericDate(s.now()),
		Expiry:   jwt.NewNumericDate(l.ExpiresAt),
	}

	// The claims carry the canonical bytes. Reloaded features hold
	// json.Number values that the JOSE encoder would render as strings.
	payload, err := CanonicalPayload(l)
	if err != nil {
		return "", signingFailure("failed to encode license payload", err)
	}

	token, err := s.keys.SignToken(claims, json.RawMessage(payload))
	if err != nil {
		return "", signingFailure("failed to sign license token", err)
	}
	return token, nil
}

// ParseToken verifies a license token and returns its claims. Expired or
// foreign tokens are rejected.
func (s *Signer) ParseToken(token string) (*TokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errutil.BadRequest("token is required", errutil.ErrInvalidArgument)
	}

	var payload Payload
	claims, err := s.keys.ParseToken(token, jwt.Expected{Issuer: Issuer, Time: s.now()}, &payload)
	if err != nil {
		return nil, errutil.Unauthorized("invalid license token", err)
	}
	if claims.Subject != payload.ID {
		return nil, errutil.Unauthorized("license token subject mismatch", nil)
	}

	return &TokenClaims{Registered: *claims, License: payload}, nil
}
