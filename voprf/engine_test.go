package voprf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/cloudflare/circl/oprf"
	"github.com/stretchr/testify/require"

	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

type engineFixture struct {
	engine Ristretto255
	key    *oprf.PrivateKey
	keys   *keystore.MemoryKeyStore
	nonces *noncestore.MemoryNonceStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	engine := NewEngine()
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	key, _, err := engine.DeriveKeyPair(seed, []byte("PrivacyPass"))
	require.NoError(t, err)

	sk, err := key.MarshalBinary()
	require.NoError(t, err)
	keys := keystore.NewMemoryKeyStore()
	_, err = keys.Set(context.Background(), sk)
	require.NoError(t, err)

	return &engineFixture{
		engine: engine,
		key:    key,
		keys:   keys,
		nonces: noncestore.NewMemoryNonceStore(),
	}
}

func (f *engineFixture) issueTokens(t *testing.T, n int) []tokens.Token {
	t.Helper()

	keyID, err := keystore.TokenKeyID(f.key.Public())
	require.NoError(t, err)

	nonces := make([][]byte, n)
	for i := range nonces {
		nonces[i] = make([]byte, 32)
		_, err := rand.Read(nonces[i])
		require.NoError(t, err)
	}

	client := typeF91A.NewBatchedPrivateClient()
	state, err := client.CreateTokenRequest([]byte("challenge"), nonces, keyID, f.key.Public())
	require.NoError(t, err)

	evaluation, err := f.engine.BlindEvaluate(f.key, state.Request().BlindedReq)
	require.NoError(t, err)
	require.Len(t, evaluation.Elements, n)

	resp := typeF91A.BatchedPrivateTokenResponse{
		EvaluatedElements: evaluation.Elements,
		Proof:             evaluation.Proof,
	}
	toks, err := state.FinalizeTokens(resp.Marshal())
	require.NoError(t, err)
	return toks
}

func TestDeriveKeyPairDeterministic(t *testing.T) {
	engine := NewEngine()
	seed := sha256.Sum256([]byte("seed"))

	sk1, pk1, err := engine.DeriveKeyPair(seed[:], []byte("PrivacyPass"))
	require.NoError(t, err)
	sk2, _, err := engine.DeriveKeyPair(seed[:], []byte("PrivacyPass"))
	require.NoError(t, err)

	enc1, err := sk1.MarshalBinary()
	require.NoError(t, err)
	enc2, err := sk2.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, enc1, enc2)

	pkEnc, err := pk1.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, pkEnc, 32)
}

func TestRedeem(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	toks := f.issueTokens(t, 3)
	for _, tok := range toks {
		require.NoError(t, f.engine.Redeem(ctx, f.keys, f.nonces, tok))
	}
	require.Equal(t, 3, f.nonces.Count())

	err := f.engine.Redeem(ctx, f.keys, f.nonces, toks[0])
	require.ErrorIs(t, err, ErrDoubleSpending)
}

func TestRedeemForged(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tok := f.issueTokens(t, 1)[0]
	tok.Authenticator = append([]byte{}, tok.Authenticator...)
	tok.Authenticator[0] ^= 0xFF

	err := f.engine.Redeem(ctx, f.keys, f.nonces, tok)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Zero(t, f.nonces.Count())
}

func TestRedeemUnknownKey(t *testing.T) {
	f := newEngineFixture(t)
	other := newEngineFixture(t)
	ctx := context.Background()

	tok := other.issueTokens(t, 1)[0]
	err := f.engine.Redeem(ctx, f.keys, f.nonces, tok)
	require.ErrorIs(t, err, ErrKeyIDNotFound)
	require.Zero(t, f.nonces.Count())
}

func TestBlindEvaluateEmpty(t *testing.T) {
	f := newEngineFixture(t)

	evaluation, err := f.engine.BlindEvaluate(f.key, nil)
	require.NoError(t, err)
	require.Empty(t, evaluation.Elements)
	require.Empty(t, evaluation.Proof)
}

func TestBlindEvaluateMalformed(t *testing.T) {
	f := newEngineFixture(t)

	bad := make([]byte, 32)
	for i := range bad {
		bad[i] = 0xFF
	}
	_, err := f.engine.BlindEvaluate(f.key, [][]byte{bad})
	require.ErrorIs(t, err, ErrMalformedElement)
}
