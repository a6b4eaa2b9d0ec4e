package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
)

// NewPuller returns a Copier that reads from the configured registry
// mirrors into the local store. Only Pull is meaningful on it.
func NewPuller(dst Endpoint, cfg Config) (*Copier, error) {
	if !dst.IsLocal() {
		return nil, fmt.Errorf("%w: pull needs a local destination", domain.ErrUnsupportedTopology)
	}
	if len(cfg.Mirrors) == 0 {
		return nil, errors.New("no registry mirrors configured")
	}
	return NewCopier(Endpoint{Name: cfg.Mirrors[0].String()}, dst, cfg), nil
}

// Pull fetches model's manifest from the first mirror that has it, then
// every layer it lists, and finally writes the manifest locally.
func (c *Copier) Pull(ctx context.Context, model string) (*Report, error) {
	rep := &Report{ID: uuid.NewString(), Model: model, Target: model}
	log := c.cfg.Log.WithFields(logrus.Fields{"copy_id": rep.ID, "model": model})

	c.begin(rep, c.src.String(), log)
	start := time.Now()
	err := c.pull(ctx, rep, log)
	rep.Duration = time.Since(start)
	c.end(rep, err, log)
	return rep, err
}

func (c *Copier) pull(ctx context.Context, rep *Report, log *logrus.Entry) error {
	ref, err := domain.ParseModelRef(rep.Model)
	if err != nil {
		return err
	}

	manifest, err := c.fetchManifest(ctx, ref, log)
	if err != nil {
		return err
	}

	resolvers := make([]Resolver, 0, len(c.cfg.Mirrors))
	for _, m := range c.cfg.Mirrors {
		resolvers = append(resolvers, MirrorResolver(m, ref))
	}
	engine, err := NewEngine(c.src, c.dst, resolvers, c.cfg.Engine, log)
	if err != nil {
		return err
	}
	rep.Topology = engine.Topology()

	var entries []blobEntry
	seen := make(map[domain.Digest]bool)
	for _, l := range append([]domain.Layer{manifest.Config}, manifest.Layers...) {
		if l.Digest == "" || seen[l.Digest] {
			continue
		}
		seen[l.Digest] = true
		entries = append(entries, blobEntry{digest: l.Digest, role: roleOf(l.MediaType), fileName: l.Digest.FileName()})
	}
	if err := c.runTasks(ctx, engine, entries, rep); err != nil {
		return err
	}

	if err := c.dst.Local.SaveManifest(ref, *manifest); err != nil {
		return fmt.Errorf("write manifest for %s: %w", ref, err)
	}
	c.status(StatusSuccess)
	return nil
}

// fetchManifest asks each mirror in order. It fails with ErrNotInRegistry
// only when every mirror answered 404.
func (c *Copier) fetchManifest(ctx context.Context, ref domain.ModelRef, log *logrus.Entry) (*domain.Manifest, error) {
	allAbsent := true
	var lastErr error
	for _, m := range c.cfg.Mirrors {
		manifest, err := m.Manifest(ctx, ref)
		if err == nil {
			log.WithField("mirror", m.String()).Debug("manifest fetched")
			return manifest, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *remote.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound {
			allAbsent = false
		}
		lastErr = fmt.Errorf("%s: %w", m, err)
		log.WithField("mirror", m.String()).WithError(err).Debug("manifest lookup failed, trying next")
	}
	if allAbsent {
		return nil, fmt.Errorf("%s: %w: %w", ref, domain.ErrNotInRegistry, lastErr)
	}
	return nil, fmt.Errorf("fetch manifest for %s: %w", ref, lastErr)
}

func (c *Copier) status(s string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

func roleOf(mediaType string) domain.Role {
	switch mediaType {
	case domain.MediaTypeModel:
		return domain.RoleModel
	case domain.MediaTypeAdapter:
		return domain.RoleAdapter
	case domain.MediaTypeProjector:
		return domain.RoleProjector
	default:
		return domain.RoleMetadata
	}
}
