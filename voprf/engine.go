// Package voprf drives the ristretto255 VOPRF for batched private tokens:
// key derivation, batched blind evaluation and token redemption.
package voprf

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/oprf"

	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

var (
	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("voprf: token authentication mismatch")
	// ErrDoubleSpending means the token nonce was already redeemed.
	ErrDoubleSpending = errors.New("voprf: token already redeemed")
	// ErrKeyIDNotFound means no loaded key matches the token key id.
	ErrKeyIDNotFound = errors.New("voprf: token key id not found")
	// ErrMalformedElement means a blinded element is not a valid group element.
	ErrMalformedElement = errors.New("voprf: malformed blinded element")
)

// Evaluation is a batched blind evaluation: one evaluated element per
// blinded element, in order, and a single DLEQ proof covering all of them.
type Evaluation struct {
	Elements [][]byte
	Proof    []byte
}

// Engine is the VOPRF primitive the issuer and redeemer orchestrate.
type Engine interface {
	DeriveKeyPair(seed, info []byte) (*oprf.PrivateKey, *oprf.PublicKey, error)
	BlindEvaluate(key *oprf.PrivateKey, blinded [][]byte) (*Evaluation, error)
	Redeem(ctx context.Context, keys keystore.KeyStore, nonces noncestore.NonceStore, token tokens.Token) error
}

// Ristretto255 is the circl backed Engine.
type Ristretto255 struct{}

var _ Engine = Ristretto255{}

func NewEngine() Ristretto255 {
	return Ristretto255{}
}

func (Ristretto255) DeriveKeyPair(seed, info []byte) (*oprf.PrivateKey, *oprf.PublicKey, error) {
	key, err := oprf.DeriveKey(typeF91A.Suite, oprf.VerifiableMode, seed, info)
	if err != nil {
		return nil, nil, err
	}
	return key, key.Public(), nil
}

func (Ristretto255) BlindEvaluate(key *oprf.PrivateKey, blinded [][]byte) (*Evaluation, error) {
	if len(blinded) == 0 {
		return &Evaluation{}, nil
	}

	server := oprf.NewVerifiableServer(typeF91A.Suite, key)

	elements := make([]group.Element, len(blinded))
	for i := range blinded {
		elements[i] = group.Ristretto255.NewElement()
		if err := elements[i].UnmarshalBinary(blinded[i]); err != nil {
			return nil, fmt.Errorf("%w %d: %v", ErrMalformedElement, i, err)
		}
	}

	evaluation, err := server.Evaluate(&oprf.EvaluationRequest{
		Elements: elements,
	})
	if err != nil {
		return nil, err
	}

	out := &Evaluation{
		Elements: make([][]byte, len(evaluation.Elements)),
	}
	for i := range evaluation.Elements {
		out.Elements[i], err = evaluation.Elements[i].MarshalBinaryCompress()
		if err != nil {
			return nil, err
		}
	}
	out.Proof, err = evaluation.Proof.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Redeem verifies token against the loaded keys and records its nonce. The
// nonce is recorded only once the authenticator has been verified.
func (Ristretto255) Redeem(ctx context.Context, keys keystore.KeyStore, nonces noncestore.NonceStore, token tokens.Token) error {
	if token.TokenType != typeF91A.BatchedPrivateTokenType ||
		len(token.Authenticator) != typeF91A.AuthenticatorLength {
		return ErrInvalidToken
	}

	key, err := keys.Get(ctx, token.TruncatedKeyID())
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return ErrKeyIDNotFound
		}
		return err
	}
	keyID, err := keystore.TokenKeyID(key.Public())
	if err != nil {
		return err
	}
	if !bytes.Equal(keyID, token.KeyID) {
		return ErrKeyIDNotFound
	}

	server := oprf.NewVerifiableServer(typeF91A.Suite, key)
	output, err := server.FullEvaluate(token.AuthenticatorInput())
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(output, token.Authenticator) != 1 {
		return ErrInvalidToken
	}

	fresh, err := nonces.CheckAndSet(ctx, token.Nonce)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDoubleSpending
	}

	return nil
}
