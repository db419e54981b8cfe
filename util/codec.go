package util

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/cloudflare/circl/oprf"
)

// /////
// Infallible Serialize / Deserialize
func fatalOnError(t *testing.T, err error, msg string) {
	if err != nil {
		realMsg := fmt.Sprintf("%s: %v", msg, err)
		if t != nil {
			t.Fatal(realMsg)
		} else {
			panic(realMsg)
		}
	}
}

func MustUnhex(t *testing.T, h string) []byte {
	out, err := hex.DecodeString(h)
	fatalOnError(t, err, "Unhex failed")
	return out
}

func MustHex(d []byte) string {
	return hex.EncodeToString(d)
}

func MustHexList(d [][]byte) []string {
	hexValues := make([]string, len(d))
	for i := 0; i < len(d); i++ {
		hexValues[i] = hex.EncodeToString(d[i])
	}
	return hexValues
}

// MustUnbase64 decodes URL-safe padded base64, the encoding of every opaque
// value crossing the server boundary.
func MustUnbase64(t *testing.T, s string) []byte {
	out, err := base64.URLEncoding.DecodeString(s)
	fatalOnError(t, err, "Unbase64 failed")
	return out
}

func MustBase64(d []byte) string {
	return base64.URLEncoding.EncodeToString(d)
}

func MustMarshalPrivateOPRFKey(key *oprf.PrivateKey) []byte {
	encodedKey, err := key.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return encodedKey
}

func MustUnmarshalPrivateOPRFKey(data []byte) *oprf.PrivateKey {
	key := new(oprf.PrivateKey)
	err := key.UnmarshalBinary(oprf.SuiteRistretto255, data)
	if err != nil {
		panic(err)
	}
	return key
}

func MustMarshalPublicOPRFKey(key *oprf.PublicKey) []byte {
	encodedKey, err := key.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return encodedKey
}

func MustUnmarshalPublicOPRFKey(data []byte) *oprf.PublicKey {
	key := new(oprf.PublicKey)
	err := key.UnmarshalBinary(oprf.SuiteRistretto255, data)
	if err != nil {
		panic(err)
	}
	return key
}
