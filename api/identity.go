package api

import (
	"errors"
	"net/http"
)

// Identity resolves the authenticated owner id for a request. Token issuance
// and session handling live outside this service; the reference
// implementation trusts a header set by the fronting auth layer.
type Identity interface {
	OwnerID(r *http.Request) (string, error)
}

var errNoIdentity = errors.New("missing user identity")

type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) OwnerID(r *http.Request) (string, error) {
	header := h.Header
	if header == "" {
		header = "X-User-ID"
	}

	owner := r.Header.Get(header)
	if owner == "" {
		return "", errNoIdentity
	}
	return owner, nil
}

var _ Identity = HeaderIdentity{}
