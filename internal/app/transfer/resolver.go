package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
	"github.com/tutu-network/modelctl/internal/infra/remote"
)

// Resolver is one candidate source for a blob's bytes.
type Resolver interface {
	Name() string
	Open(ctx context.Context, d domain.Digest) (io.ReadCloser, int64, error)
}

// ServerResolver reads blobs from a model server's GET /api/blobs/{digest}.
// Stock servers answer 404 or 405 there, which sends the lookup on to the
// next resolver.
func ServerResolver(c *remote.Client) Resolver { return serverResolver{c} }

type serverResolver struct{ c *remote.Client }

func (r serverResolver) Name() string { return r.c.String() }

func (r serverResolver) Open(ctx context.Context, d domain.Digest) (io.ReadCloser, int64, error) {
	return r.c.OpenBlob(ctx, d)
}

// MirrorResolver reads blobs of ref from a registry mirror.
func MirrorResolver(m *remote.Mirror, ref domain.ModelRef) Resolver {
	return mirrorResolver{m: m, ref: ref}
}

type mirrorResolver struct {
	m   *remote.Mirror
	ref domain.ModelRef
}

func (r mirrorResolver) Name() string { return r.m.String() }

func (r mirrorResolver) Open(ctx context.Context, d domain.Digest) (io.ReadCloser, int64, error) {
	return r.m.OpenBlob(ctx, r.ref, d)
}

// Resolve tries each resolver in order and returns the first stream that
// opens, along with its size (-1 if unknown) and the resolver's name.
//
// When every candidate fails the error is a *domain.TransferError of kind
// NotInRegistry if all of them answered "absent", and SourceUnreachable
// otherwise.
func Resolve(ctx context.Context, resolvers []Resolver, d domain.Digest, log *logrus.Entry) (io.ReadCloser, int64, string, error) {
	if len(resolvers) == 0 {
		return nil, 0, "", &domain.TransferError{Digest: d, Kind: domain.SourceUnreachable, Err: errors.New("no blob sources configured")}
	}

	allAbsent := true
	var lastErr error
	for _, r := range resolvers {
		if err := ctx.Err(); err != nil {
			return nil, 0, "", err
		}
		body, size, err := r.Open(ctx, d)
		if err == nil {
			metrics.ResolverAttempts.WithLabelValues("ok").Inc()
			return body, size, r.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, 0, "", ctx.Err()
		}

		absent := isAbsent(err)
		if absent {
			metrics.ResolverAttempts.WithLabelValues("not_found").Inc()
		} else {
			metrics.ResolverAttempts.WithLabelValues("error").Inc()
			allAbsent = false
		}
		log.WithFields(logrus.Fields{"source": r.Name(), "absent": absent}).WithError(err).Debug("blob source failed, trying next")
		lastErr = fmt.Errorf("%s: %w", r.Name(), err)
	}

	if allAbsent {
		return nil, 0, "", &domain.TransferError{Digest: d, Kind: domain.NotInRegistry, StatusCode: http.StatusNotFound, Err: lastErr}
	}
	return nil, 0, "", &domain.TransferError{Digest: d, Kind: domain.SourceUnreachable, Err: lastErr}
}

// isAbsent reports whether a source definitively does not have the blob, as
// opposed to being unreachable.
func isAbsent(err error) bool {
	var se *remote.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusNotFound || se.Code == http.StatusMethodNotAllowed
}
