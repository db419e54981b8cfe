// Package privacypass implements the issuer side of the privacy pass
// batched private token protocol (token type 0xF91A): key generation,
// challenges, blind issuance and token redemption.
package privacypass

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cloudflare/circl/group"

	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
	"github.com/kagisearch/privacypass-lib/voprf"
)

// KeyDerivationInfo is the domain separation string for issuer key
// derivation.
var KeyDerivationInfo = []byte("PrivacyPass")

// Keypair is an issuer signing key. SecretKey must stay private to the
// issuer; PublicKey is published in WWW-Authenticate challenges.
type Keypair struct {
	PublicKey []byte
	SecretKey []byte
	TokenType uint16
}

type keypairJSON struct {
	SecretKey string `json:"sk"`
	PublicKey string `json:"pk"`
	TokenType uint16 `json:"token_type"`
}

// MarshalJSON encodes both halves as URL-safe base64.
func (k Keypair) MarshalJSON() ([]byte, error) {
	return json.Marshal(keypairJSON{
		SecretKey: base64.URLEncoding.EncodeToString(k.SecretKey),
		PublicKey: base64.URLEncoding.EncodeToString(k.PublicKey),
		TokenType: k.TokenType,
	})
}

func (k *Keypair) UnmarshalJSON(data []byte) error {
	raw := keypairJSON{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sk, err := base64.URLEncoding.DecodeString(raw.SecretKey)
	if err != nil {
		return fmt.Errorf("%w: secret key: %v", ErrInvalidEncoding, err)
	}
	pk, err := base64.URLEncoding.DecodeString(raw.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidEncoding, err)
	}
	k.SecretKey = sk
	k.PublicKey = pk
	k.TokenType = raw.TokenType
	return nil
}

// Issuer creates keypairs and the challenges clients answer with tokens.
type Issuer struct {
	engine voprf.Engine
	rand   io.Reader
}

// NewIssuer returns an Issuer drawing key seeds from r, or crypto/rand when
// r is nil.
func NewIssuer(engine voprf.Engine, r io.Reader) *Issuer {
	if r == nil {
		r = rand.Reader
	}
	return &Issuer{
		engine: engine,
		rand:   r,
	}
}

// GenerateKeypair derives a fresh keypair from a random seed.
func (i *Issuer) GenerateKeypair() (Keypair, error) {
	seed := make([]byte, group.Ristretto255.Params().ScalarLength)
	if _, err := io.ReadFull(i.rand, seed); err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}

	sk, pk, err := i.engine.DeriveKeyPair(seed, KeyDerivationInfo)
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}
	pkEnc, err := pk.MarshalBinary()
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeypairCreationFailed, err)
	}
	skEnc, err := sk.MarshalBinary()
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	return Keypair{
		PublicKey: pkEnc,
		SecretKey: skEnc,
		TokenType: typeF91A.BatchedPrivateTokenType,
	}, nil
}

// BuildChallenge returns the challenge for issuerName and originInfo. A nil
// redemptionContext leaves tokens unbound to any particular context.
func (i *Issuer) BuildChallenge(issuerName string, originInfo []string, redemptionContext []byte) tokens.TokenChallenge {
	return tokens.NewTokenChallenge(typeF91A.BatchedPrivateTokenType, issuerName, redemptionContext, originInfo)
}

// BuildAuthHeader returns the WWW-Authenticate header value for challenge
// and publicKey. A non-positive maxAge omits the max-age parameter, others
// are rounded up to whole seconds.
func (i *Issuer) BuildAuthHeader(challenge tokens.TokenChallenge, publicKey []byte, maxAge time.Duration) (string, error) {
	var seconds uint32
	switch {
	case maxAge >= math.MaxUint32*time.Second:
		seconds = math.MaxUint32
	case maxAge > 0:
		seconds = uint32((maxAge + time.Second - 1) / time.Second)
	}

	header, err := tokens.BuildWWWAuthenticate(challenge, publicKey, seconds)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	return header, nil
}
