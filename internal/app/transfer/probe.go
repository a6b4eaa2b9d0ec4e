package transfer

import (
	"context"
	"net/http"

	"github.com/tutu-network/modelctl/internal/domain"
)

// ProbeResult is the answer to "is this blob already at the destination?".
type ProbeResult int

const (
	ProbeExists ProbeResult = iota
	ProbeNotFound
	ProbeFailed
)

// String returns the result name.
func (r ProbeResult) String() string {
	switch r {
	case ProbeExists:
		return "exists"
	case ProbeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Probe performs one existence check against dst and never retries.
// Remote endpoints get a HEAD request; the local store a stat of the blob
// file. ProbeFailed always comes with a *domain.ProbeError.
func Probe(ctx context.Context, dst Endpoint, d domain.Digest) (ProbeResult, error) {
	if dst.IsLocal() {
		ok, err := dst.Local.HasBlob(d)
		if err != nil {
			return ProbeFailed, &domain.ProbeError{Digest: d, Err: err}
		}
		if ok {
			return ProbeExists, nil
		}
		return ProbeNotFound, nil
	}

	code, err := dst.Remote.HeadBlob(ctx, d)
	if err != nil {
		return ProbeFailed, &domain.ProbeError{Digest: d, Transient: true, Err: err}
	}
	switch code {
	case http.StatusOK:
		return ProbeExists, nil
	case http.StatusNotFound:
		return ProbeNotFound, nil
	default:
		return ProbeFailed, &domain.ProbeError{Digest: d, StatusCode: code}
	}
}
