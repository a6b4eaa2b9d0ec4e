package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/app"
	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
	"github.com/tutu-network/modelctl/internal/infra/remote"
)

// Config wires a Copier to its collaborators. Everything but Log may be
// left zero.
type Config struct {
	Engine  Options
	Mirrors []*remote.Mirror
	History domain.HistoryStore
	Log     *logrus.Entry

	// OnTask is called once per blob when its task reaches a terminal state.
	OnTask func(task *domain.TransferTask)
	// OnStatus sees the destination's create status lines.
	OnStatus func(status string)
}

// Copier copies models from one endpoint to another.
type Copier struct {
	src Endpoint
	dst Endpoint
	cfg Config
}

// NewCopier returns a Copier for src → dst.
func NewCopier(src, dst Endpoint, cfg Config) *Copier {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Copier{src: src, dst: dst, cfg: cfg}
}

// Report summarises one copy or pull.
type Report struct {
	ID       string
	Model    string
	Target   string
	Topology domain.Topology
	Tasks    []*domain.TransferTask
	Bytes    int64
	Duration time.Duration
}

// Count returns how many tasks ended with outcome o.
func (r *Report) Count(o domain.Outcome) int {
	n := 0
	for _, t := range r.Tasks {
		if t.Result.Outcome == o {
			n++
		}
	}
	return n
}

// Copy replicates model from the source to the destination as target
// (model itself if target is empty). Any blob failure aborts the copy
// before the destination learns about the model.
func (c *Copier) Copy(ctx context.Context, model, target string) (*Report, error) {
	if target == "" {
		target = model
	}
	rep := &Report{ID: uuid.NewString(), Model: model, Target: target}
	log := c.cfg.Log.WithFields(logrus.Fields{"copy_id": rep.ID, "model": model})

	c.begin(rep, c.src.String(), log)
	start := time.Now()
	err := c.copy(ctx, rep, log)
	rep.Duration = time.Since(start)
	c.end(rep, err, log)
	return rep, err
}

func (c *Copier) copy(ctx context.Context, rep *Report, log *logrus.Entry) error {
	// Same place on both ends: only the manifest needs a new name.
	if c.src.IsLocal() && c.dst.IsLocal() {
		src, err := domain.ParseModelRef(rep.Model)
		if err != nil {
			return err
		}
		dst, err := domain.ParseModelRef(rep.Target)
		if err != nil {
			return err
		}
		return c.dst.Local.CopyModel(src, dst)
	}
	if !c.src.IsLocal() && !c.dst.IsLocal() && c.src.Remote.BaseURL() == c.dst.Remote.BaseURL() {
		return c.src.Remote.Copy(ctx, rep.Model, rep.Target)
	}

	info, err := c.describe(ctx, rep.Model)
	if err != nil {
		return err
	}
	catalog, def, err := info.Plan()
	if err != nil {
		return err
	}
	log.WithField("blobs", len(catalog)).Info("model definition parsed")

	resolvers, err := c.resolvers(rep.Model)
	if err != nil {
		return err
	}
	engine, err := NewEngine(c.src, c.dst, resolvers, c.cfg.Engine, log)
	if err != nil {
		return err
	}
	rep.Topology = engine.Topology()

	entries := make([]blobEntry, len(catalog))
	for i, e := range catalog {
		entries[i] = blobEntry{digest: e.Digest, role: e.Role, fileName: e.FileName}
	}
	if err := c.runTasks(ctx, engine, entries, rep); err != nil {
		return err
	}

	rec := NewRecreator(c.dst, log)
	rec.OnStatus = c.cfg.OnStatus
	if err := rec.Recreate(ctx, rep.Target, def); err != nil {
		return err
	}
	log.WithField("target", rep.Target).Info("model created on destination")
	return nil
}

func (c *Copier) describe(ctx context.Context, model string) (*app.SourceInfo, error) {
	if c.src.IsLocal() {
		ref, err := domain.ParseModelRef(model)
		if err != nil {
			return nil, err
		}
		mi, err := c.src.Local.Show(ref)
		if err != nil {
			return nil, err
		}
		return app.DescribeLocal(model, mi), nil
	}
	show, err := c.src.Remote.Show(ctx, model)
	if err != nil {
		return nil, err
	}
	return app.DescribeRemote(model, show)
}

// resolvers lists where a remote source's blob bytes can come from: the
// source server itself, then each registry mirror in order.
func (c *Copier) resolvers(model string) ([]Resolver, error) {
	if c.src.IsLocal() {
		return nil, nil
	}
	ref, err := domain.ParseModelRef(model)
	if err != nil {
		return nil, err
	}
	var out []Resolver
	if c.src.Remote != nil {
		out = append(out, ServerResolver(c.src.Remote))
	}
	for _, m := range c.cfg.Mirrors {
		out = append(out, MirrorResolver(m, ref))
	}
	return out, nil
}

type blobEntry struct {
	digest   domain.Digest
	role     domain.Role
	fileName string
}

// runTasks moves every blob in order and stops at the first failure.
func (c *Copier) runTasks(ctx context.Context, engine *Engine, entries []blobEntry, rep *Report) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		task := domain.NewTransferTask(e.digest, e.role, e.fileName, c.src.String(), c.dst.String())
		rep.Tasks = append(rep.Tasks, task)

		res := engine.Run(ctx, task)
		rep.Bytes += res.Bytes
		c.record(rep.ID, task)
		if c.cfg.OnTask != nil {
			c.cfg.OnTask(task)
		}
		if res.Outcome == domain.OutcomeFailed {
			return res.Err
		}
	}
	return nil
}

// ─── History ────────────────────────────────────────────────────────────────

func (c *Copier) begin(rep *Report, source string, log *logrus.Entry) {
	if c.cfg.History == nil {
		return
	}
	err := c.cfg.History.BeginCopy(domain.CopyRecord{
		ID:          rep.ID,
		Model:       rep.Model,
		Target:      rep.Target,
		Source:      source,
		Destination: c.dst.String(),
		Status:      domain.CopyRunning,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).Warn("could not record copy start")
	}
}

func (c *Copier) record(copyID string, task *domain.TransferTask) {
	if c.cfg.History == nil {
		return
	}
	if err := c.cfg.History.RecordTransfer(copyID, *task); err != nil {
		c.cfg.Log.WithError(err).WithField("copy_id", copyID).Warn("could not record transfer")
	}
}

func (c *Copier) end(rep *Report, err error, log *logrus.Entry) {
	status := domain.CopySucceeded
	msg := ""
	if err != nil {
		status = domain.CopyFailed
		msg = err.Error()
		log.WithError(err).Error("copy failed")
	} else {
		log.WithFields(logrus.Fields{
			"transferred": rep.Count(domain.OutcomeTransferred),
			"skipped":     rep.Count(domain.OutcomeSkipped),
			"bytes":       rep.Bytes,
		}).Info("copy finished")
	}
	metrics.CopiesTotal.WithLabelValues(string(status)).Inc()

	if c.cfg.History == nil {
		return
	}
	if herr := c.cfg.History.FinishCopy(rep.ID, status, rep.Bytes, msg); herr != nil {
		log.WithError(herr).Warn("could not record copy result")
	}
}
