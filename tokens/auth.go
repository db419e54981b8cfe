package tokens

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// AuthScheme is the HTTP authentication scheme for privacy pass tokens.
	AuthScheme = "PrivateToken"

	WWWAuthenticateHeader = "WWW-Authenticate"
	AuthorizationHeader   = "Authorization"
)

var (
	ErrInvalidAuthScheme = errors.New("tokens: authorization scheme is not PrivateToken")
	ErrMissingToken      = errors.New("tokens: authorization header carries no token parameter")
)

// BuildWWWAuthenticate returns the value of a WWW-Authenticate header
// challenging the client for a token against tokenKey. A zero maxAge omits
// the max-age parameter.
//
//	PrivateToken challenge="<base64url>", token-key="<base64url>"[, max-age="<seconds>"]
func BuildWWWAuthenticate(challenge TokenChallenge, tokenKey []byte, maxAge uint32) (string, error) {
	challengeEnc, err := challenge.Base64()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(AuthScheme)
	sb.WriteString(" challenge=")
	sb.WriteString(strconv.Quote(challengeEnc))
	sb.WriteString(", token-key=")
	sb.WriteString(strconv.Quote(base64.URLEncoding.EncodeToString(tokenKey)))
	if maxAge > 0 {
		sb.WriteString(", max-age=")
		sb.WriteString(strconv.Quote(strconv.FormatUint(uint64(maxAge), 10)))
	}
	return sb.String(), nil
}

// ParseAuthorization extracts the token parameter from an
// "Authorization: PrivateToken token=..." header value. The token is returned
// exactly as transported so the caller can check its encoding.
func ParseAuthorization(value string) (string, error) {
	params, err := parseAuthParams(value)
	if err != nil {
		return "", err
	}
	token, ok := params["token"]
	if !ok || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// ParseWWWAuthenticate is the inverse of BuildWWWAuthenticate. It returns the
// raw challenge bytes, the token key and max-age (zero when absent).
func ParseWWWAuthenticate(value string) (TokenChallenge, []byte, uint32, error) {
	params, err := parseAuthParams(value)
	if err != nil {
		return TokenChallenge{}, nil, 0, err
	}

	challenge, err := UnmarshalTokenChallengeBase64(params["challenge"])
	if err != nil {
		return TokenChallenge{}, nil, 0, err
	}
	tokenKey, err := base64.URLEncoding.DecodeString(params["token-key"])
	if err != nil || len(tokenKey) == 0 {
		return TokenChallenge{}, nil, 0, fmt.Errorf("tokens: invalid token-key parameter")
	}

	var maxAge uint32
	if raw, ok := params["max-age"]; ok {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return TokenChallenge{}, nil, 0, fmt.Errorf("tokens: invalid max-age parameter: %v", err)
		}
		maxAge = uint32(v)
	}

	return challenge, tokenKey, maxAge, nil
}

func parseAuthParams(value string) (map[string]string, error) {
	value = strings.TrimSpace(value)
	scheme, rest, _ := strings.Cut(value, " ")
	if !strings.EqualFold(scheme, AuthScheme) {
		return nil, ErrInvalidAuthScheme
	}

	params := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("tokens: malformed auth parameter %q", part)
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, `"`) {
			unquoted, err := strconv.Unquote(v)
			if err != nil {
				return nil, fmt.Errorf("tokens: malformed auth parameter %q", part)
			}
			v = unquoted
		}
		params[k] = v
	}
	return params, nil
}
