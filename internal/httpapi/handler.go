// Package httpapi serves the issuer over HTTP: challenges, token issuance
// and token redemption.
package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"gopkg.in/op/go-logging.v1"

	privacypass "github.com/kagisearch/privacypass-lib"
	"github.com/kagisearch/privacypass-lib/tokens"
)

const (
	ChallengePath    = "/challenge"
	TokenRequestPath = "/token-request"
	RedeemPath       = "/redeem"

	TokenRequestMediaType  = "application/private-token-request"
	TokenResponseMediaType = "application/private-token-response"

	// maxRequestBody fits a request carrying 2^16-1 bytes of blinded
	// elements.
	maxRequestBody = 3 + 0xFFFF
)

// Policy is the issuance policy the handler enforces.
type Policy struct {
	IssuerName      string
	Origins         []string
	MaxTokens       int
	RejectOversized bool
	MaxAge          time.Duration
}

// Handler is the issuer's http.Handler. It serves a single keypair and a
// single challenge.
type Handler struct {
	mux *http.ServeMux

	srv       *privacypass.Server
	policy    Policy
	secretKey string
	challenge string
	header    string

	log *logging.Logger
}

// NewHandler builds the handler. The challenge and its WWW-Authenticate
// header are computed once.
func NewHandler(srv *privacypass.Server, kp privacypass.Keypair, policy Policy, logger *logging.Logger) (*Handler, error) {
	challenge, err := srv.BuildChallenge(policy.IssuerName, policy.Origins)
	if err != nil {
		return nil, err
	}
	header, err := srv.BuildAuthHeader(challenge, base64.URLEncoding.EncodeToString(kp.PublicKey), policy.MaxAge)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		mux:       http.NewServeMux(),
		srv:       srv,
		policy:    policy,
		secretKey: base64.URLEncoding.EncodeToString(kp.SecretKey),
		challenge: challenge,
		header:    header,
		log:       logger,
	}
	h.mux.HandleFunc("GET "+ChallengePath, h.handleChallenge)
	h.mux.HandleFunc("POST "+TokenRequestPath, h.handleTokenRequest)
	h.mux.HandleFunc("GET "+RedeemPath, h.handleRedeem)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	w.Header().Set(tokens.WWWAuthenticateHeader, h.header)
	w.WriteHeader(http.StatusUnauthorized)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	h.unauthorized(w)
}

func (h *Handler) handleTokenRequest(w http.ResponseWriter, r *http.Request) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != TokenRequestMediaType {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	if len(body) > maxRequestBody {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	issue := h.srv.IssueResponse
	if h.policy.RejectOversized {
		issue = h.srv.IssueResponseStrict
	}
	resp, err := issue(r.Context(), h.secretKey, base64.URLEncoding.EncodeToString(body), h.policy.MaxTokens)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respEnc, err := base64.URLEncoding.DecodeString(resp)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", TokenResponseMediaType)
	w.Write(respEnc)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	token, err := tokens.ParseAuthorization(r.Header.Get(tokens.AuthorizationHeader))
	if err != nil {
		h.unauthorized(w)
		return
	}

	valid, err := h.srv.ValidateToken(r.Context(), h.secretKey, token, h.challenge)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !valid {
		h.unauthorized(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch privacypass.KindOf(err) {
	case privacypass.InputMalformed:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case privacypass.PolicyViolation:
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case privacypass.DoubleSpend:
		http.Error(w, "token already redeemed", http.StatusForbidden)
	case privacypass.ProtocolIntegrityFailure:
		if errors.Is(err, privacypass.ErrIssueTokenResponseFailed) && !errors.Is(err, privacypass.ErrKeyIDNotFound) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.unauthorized(w)
	default:
		h.log.Errorf("Request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

