package httpapi

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	privacypass "github.com/kagisearch/privacypass-lib"
	"github.com/kagisearch/privacypass-lib/keystore"
	"github.com/kagisearch/privacypass-lib/log"
	"github.com/kagisearch/privacypass-lib/noncestore"
	"github.com/kagisearch/privacypass-lib/tokens"
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
	"github.com/kagisearch/privacypass-lib/util"
)

var testPolicy = Policy{
	IssuerName: "issuer.example",
	Origins:    []string{"origin.example"},
	MaxTokens:  3,
	MaxAge:     time.Hour,
}

func newTestHandler(t *testing.T, policy Policy) (*httptest.Server, privacypass.Keypair) {
	srv := privacypass.NewServer(keystore.NewMemoryKeyStore(), noncestore.NewMemoryNonceStore())
	kp, err := srv.GenerateKeypair()
	require.NoError(t, err)

	h, err := NewHandler(srv, kp, policy, log.NewDiscard("httpapi"))
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, kp
}

func fetchChallenge(t *testing.T, ts *httptest.Server) (tokens.TokenChallenge, []byte) {
	resp, err := http.Get(ts.URL + ChallengePath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	challenge, tokenKey, maxAge, err := tokens.ParseWWWAuthenticate(resp.Header.Get(tokens.WWWAuthenticateHeader))
	require.NoError(t, err)
	require.Equal(t, uint32(3600), maxAge)
	return challenge, tokenKey
}

func postTokenRequest(t *testing.T, ts *httptest.Server, body []byte) *http.Response {
	resp, err := http.Post(ts.URL+TokenRequestPath, TokenRequestMediaType, bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func redeem(t *testing.T, ts *httptest.Server, token string) int {
	req, err := http.NewRequest(http.MethodGet, ts.URL+RedeemPath, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(tokens.AuthorizationHeader, tokens.AuthScheme+` token="`+token+`"`)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func issue(t *testing.T, ts *httptest.Server, n int) ([]tokens.Token, int) {
	challenge, tokenKey := fetchChallenge(t, ts)
	pk := util.MustUnmarshalPublicOPRFKey(tokenKey)
	keyID, err := keystore.TokenKeyID(pk)
	require.NoError(t, err)

	nonces := make([][]byte, n)
	for i := range nonces {
		nonces[i] = make([]byte, typeF91A.NonceLength)
		rand.Read(nonces[i])
	}
	state, err := typeF91A.NewBatchedPrivateClient().CreateTokenRequest(challenge.Marshal(), nonces, keyID, pk)
	require.NoError(t, err)

	resp := postTokenRequest(t, ts, state.Request().Marshal())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	require.Equal(t, TokenResponseMediaType, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded, err := typeF91A.UnmarshalBatchedPrivateTokenResponse(body)
	require.NoError(t, err)
	if decoded.Nr() != n {
		return nil, resp.StatusCode
	}

	issued, err := state.FinalizeTokens(body)
	require.NoError(t, err)
	return issued, resp.StatusCode
}

func TestIssueAndRedeem(t *testing.T) {
	ts, _ := newTestHandler(t, testPolicy)

	issued, status := issue(t, ts, 2)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, issued, 2)

	for _, token := range issued {
		encoded := base64.URLEncoding.EncodeToString(token.Marshal())
		require.Equal(t, http.StatusNoContent, redeem(t, ts, encoded))
		require.Equal(t, http.StatusForbidden, redeem(t, ts, encoded))
	}
}

func TestRedeemRejects(t *testing.T) {
	ts, _ := newTestHandler(t, testPolicy)

	require.Equal(t, http.StatusUnauthorized, redeem(t, ts, ""))
	require.Equal(t, http.StatusBadRequest, redeem(t, ts, base64.URLEncoding.EncodeToString(make([]byte, 161))))

	issued, _ := issue(t, ts, 1)
	forged := issued[0]
	forged.Authenticator = append([]byte{}, forged.Authenticator...)
	forged.Authenticator[0] ^= 0xFF
	require.Equal(t, http.StatusUnauthorized, redeem(t, ts, base64.URLEncoding.EncodeToString(forged.Marshal())))
}

func TestTokenRequestPolicies(t *testing.T) {
	ts, _ := newTestHandler(t, testPolicy)

	// Truncated to the cap, so the client cannot finalize all five.
	_, status := issue(t, ts, 5)
	require.Equal(t, http.StatusOK, status)

	strict := testPolicy
	strict.RejectOversized = true
	ts, _ = newTestHandler(t, strict)

	_, status = issue(t, ts, 5)
	require.Equal(t, http.StatusRequestEntityTooLarge, status)

	issued, status := issue(t, ts, 3)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, issued, 3)
}

func TestTokenRequestMalformed(t *testing.T) {
	ts, _ := newTestHandler(t, testPolicy)

	resp := postTokenRequest(t, ts, []byte{0xF9, 0x1A, 0x00})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(ts.URL+TokenRequestPath, "text/plain", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	// Media type parameters are allowed, so the body is what gets rejected.
	resp, err = http.Post(ts.URL+TokenRequestPath, TokenRequestMediaType+"; charset=binary", bytes.NewReader([]byte{0xF9, 0x1A, 0x00}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+TokenRequestPath, "", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}
