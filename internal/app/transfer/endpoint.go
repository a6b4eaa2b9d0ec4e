// Package transfer replicates model blobs between the local store and
// remote model servers, then recreates the model on the destination.
//
// One copy plans the model's blobs (app.Catalog), runs Probe and the Engine
// per blob, then hands the definition to a Recreator. It fails fast: no
// model is registered on a destination that is missing any of its blobs.
package transfer

import (
	"fmt"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/store"
)

// LocalLocator is the locator string naming the local store.
const LocalLocator = "local"

// Endpoint is one side of a copy: the local store or a remote server.
// Exactly one of Local and Remote is set, except for registry-only pull
// sources, which have neither and are read through resolvers.
type Endpoint struct {
	Name   string
	Local  *store.Store
	Remote *remote.Client
}

// LocalEndpoint wraps the local store.
func LocalEndpoint(s *store.Store) Endpoint {
	return Endpoint{Name: LocalLocator, Local: s}
}

// RemoteEndpoint wraps a server client.
func RemoteEndpoint(c *remote.Client) Endpoint {
	return Endpoint{Name: c.String(), Remote: c}
}

// IsLocal reports whether the endpoint is the local store.
func (e Endpoint) IsLocal() bool { return e.Local != nil }

// String implements fmt.Stringer.
func (e Endpoint) String() string { return e.Name }

// TopologyOf classifies a source/destination pair. Local to local is not a
// blob transfer at all and is rejected.
func TopologyOf(src, dst Endpoint) (domain.Topology, error) {
	switch {
	case src.IsLocal() && dst.IsLocal():
		return "", fmt.Errorf("%w: local to local", domain.ErrUnsupportedTopology)
	case src.IsLocal():
		return domain.LocalToRemote, nil
	case dst.IsLocal():
		return domain.RemoteToLocal, nil
	default:
		return domain.RemoteToRemote, nil
	}
}
