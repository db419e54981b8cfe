package privacypass

import (
	"github.com/kagisearch/privacypass-lib/tokens/typeF91A"
)

// Govern caps req at maxElements blinded elements, keeping the first ones in
// order. A request within the cap is returned unchanged. A maxElements of
// zero or less yields an empty request, whose response carries no
// evaluations.
func Govern(req *typeF91A.BatchedPrivateTokenRequest, maxElements int) *typeF91A.BatchedPrivateTokenRequest {
	return req.Truncate(maxElements)
}
