package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
	"github.com/tutu-network/modelctl/internal/infra/progress"
	"github.com/tutu-network/modelctl/internal/infra/relay"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/throttle"
)

// DefaultRelayBuffer is the relay pipe capacity when none is configured.
const DefaultRelayBuffer = 8 << 20

// ProgressFunc receives progress samples for one task.
type ProgressFunc func(task *domain.TransferTask, transferred, total int64, elapsed time.Duration)

// Options tunes an Engine.
type Options struct {
	// RelayBuffer caps the bytes held between download and upload in a
	// remote-to-remote transfer.
	RelayBuffer int
	// RateLimit is the bytes/second ceiling per blob; 0 disables it.
	RateLimit int64
	// ProgressInterval is the minimum gap between progress samples.
	ProgressInterval time.Duration
	// VerifyDigests hashes blobs written to the local store.
	VerifyDigests bool
	// Progress, if set, is called on the goroutine moving bytes towards the
	// destination.
	Progress ProgressFunc
}

// Engine moves single blobs from one endpoint to another.
type Engine struct {
	src       Endpoint
	dst       Endpoint
	topology  domain.Topology
	resolvers []Resolver
	opts      Options
	log       *logrus.Entry
}

// NewEngine returns an engine for the src → dst pair. resolvers supply blob
// bytes whenever the source is remote.
func NewEngine(src, dst Endpoint, resolvers []Resolver, opts Options, log *logrus.Entry) (*Engine, error) {
	topology, err := TopologyOf(src, dst)
	if err != nil {
		return nil, err
	}
	if opts.RelayBuffer <= 0 {
		opts.RelayBuffer = DefaultRelayBuffer
	}
	return &Engine{
		src:       src,
		dst:       dst,
		topology:  topology,
		resolvers: resolvers,
		opts:      opts,
		log:       log.WithField("topology", string(topology)),
	}, nil
}

// Topology returns the engine's transfer topology.
func (e *Engine) Topology() domain.Topology { return e.topology }

// Run drives task through probe and, if needed, transfer. The task ends in
// Skipped, Completed or Failed and carries the result.
func (e *Engine) Run(ctx context.Context, task *domain.TransferTask) domain.BlobResult {
	log := e.log.WithFields(logrus.Fields{"digest": task.Digest.Short(), "role": string(task.Role)})

	if err := ctx.Err(); err != nil {
		return e.finish(task, domain.Failed(err), log)
	}

	if err := task.Advance(domain.TaskProbing); err != nil {
		return e.finish(task, domain.Failed(err), log)
	}
	switch res, err := Probe(ctx, e.dst, task.Digest); res {
	case ProbeExists:
		if err := task.Advance(domain.TaskSkipped); err != nil {
			return e.finish(task, domain.Failed(err), log)
		}
		return e.finish(task, domain.Skipped("already present at "+e.dst.String()), log)
	case ProbeFailed:
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return e.finish(task, domain.Failed(err), log)
	}

	if err := task.Advance(domain.TaskTransferring); err != nil {
		return e.finish(task, domain.Failed(err), log)
	}
	metrics.TransfersActive.Inc()
	defer metrics.TransfersActive.Dec()

	start := time.Now()
	var n int64
	var err error
	switch e.topology {
	case domain.LocalToRemote:
		n, err = e.upload(ctx, task)
	case domain.RemoteToLocal:
		n, err = e.download(ctx, task)
	case domain.RemoteToRemote:
		n, err = e.relay(ctx, task)
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return e.finish(task, domain.Failed(err), log)
	}

	if err := task.Advance(domain.TaskCompleted); err != nil {
		return e.finish(task, domain.Failed(err), log)
	}
	return e.finish(task, domain.Transferred(n, time.Since(start)), log)
}

func (e *Engine) finish(task *domain.TransferTask, res domain.BlobResult, log *logrus.Entry) domain.BlobResult {
	if res.Outcome == domain.OutcomeFailed && task.State != domain.TaskFailed {
		if err := task.Advance(domain.TaskFailed); err != nil {
			// A task handed in already terminal still has to end Failed.
			log.WithError(err).Warn("forcing task to failed")
			task.State = domain.TaskFailed
		}
	}
	task.Result = res

	topo := string(e.topology)
	metrics.BlobsTotal.WithLabelValues(topo, string(res.Outcome)).Inc()
	switch res.Outcome {
	case domain.OutcomeSkipped:
		log.Info("blob already at destination, skipped")
	case domain.OutcomeTransferred:
		metrics.BytesTransferred.WithLabelValues(topo).Add(float64(res.Bytes))
		metrics.TransferDuration.WithLabelValues(topo).Observe(res.Duration.Seconds())
		log.WithFields(logrus.Fields{"bytes": res.Bytes, "duration": res.Duration.Round(time.Millisecond)}).Info("blob transferred")
	case domain.OutcomeFailed:
		log.WithError(res.Err).Error("blob failed")
	}
	return res
}

func (e *Engine) reporter(task *domain.TransferTask, total int64) *progress.Reporter {
	if e.opts.Progress == nil {
		return progress.New(total, e.opts.ProgressInterval, nil)
	}
	return progress.New(total, e.opts.ProgressInterval, func(transferred, total int64, elapsed time.Duration) {
		e.opts.Progress(task, transferred, total, elapsed)
	})
}

// ─── local → remote ─────────────────────────────────────────────────────────

func (e *Engine) upload(ctx context.Context, task *domain.TransferTask) (int64, error) {
	f, size, err := e.src.Local.OpenBlob(task.Digest)
	if err != nil {
		return 0, &domain.TransferError{Digest: task.Digest, Kind: domain.SourceUnreachable, Err: err}
	}
	defer f.Close()
	task.Size = size

	rep := e.reporter(task, size)
	body := throttle.NewReader(ctx, rep.Reader(f), e.opts.RateLimit)
	if err := e.dst.Remote.UploadBlob(ctx, task.Digest, body, size); err != nil {
		return rep.Transferred(), uploadError(task.Digest, err)
	}
	rep.Finish()
	return rep.Transferred(), nil
}

// ─── remote → local ─────────────────────────────────────────────────────────

func (e *Engine) download(ctx context.Context, task *domain.TransferTask) (int64, error) {
	body, size, from, err := Resolve(ctx, e.resolvers, task.Digest, e.log)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	if size > 0 {
		task.Size = size
		if err := e.dst.Local.EnsureSpace(size); err != nil {
			return 0, err
		}
	}

	w, err := e.dst.Local.CreateBlob(task.Digest, e.opts.VerifyDigests)
	if err != nil {
		return 0, err
	}
	// Abort is a no-op after a successful Commit, so the temp file is gone
	// on every failure path, cancellation included.
	defer w.Abort()

	rep := e.reporter(task, size)
	src := throttle.NewReader(ctx, body, e.opts.RateLimit)
	if _, err := io.Copy(rep.Writer(w), src); err != nil {
		if ctx.Err() != nil {
			return w.Written(), ctx.Err()
		}
		return w.Written(), &domain.TransferError{Digest: task.Digest, Kind: domain.SourceUnreachable, Err: fmt.Errorf("read from %s: %w", from, err)}
	}
	if err := w.Commit(); err != nil {
		if errors.Is(err, domain.ErrDigestMismatch) {
			metrics.DigestMismatches.Inc()
		}
		return w.Written(), fmt.Errorf("blob %s from %s: %w", task.Digest, from, err)
	}
	rep.Finish()
	return w.Written(), nil
}

// ─── remote → remote ────────────────────────────────────────────────────────

// relayBody lets the HTTP transport close the pipe, so a destination that
// hangs up early unblocks the download unit.
type relayBody struct {
	io.Reader
	io.Closer
}

func (e *Engine) relay(ctx context.Context, task *domain.TransferTask) (int64, error) {
	body, size, from, err := Resolve(ctx, e.resolvers, task.Digest, e.log)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		task.Size = size
	}

	pipe := relay.New(e.opts.RelayBuffer)
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { pipe.Fault(gctx.Err()) })
	defer stop()

	// Download unit: source → pipe.
	g.Go(func() error {
		defer body.Close()
		src := throttle.NewReader(gctx, body, e.opts.RateLimit)
		if _, err := io.Copy(pipe, src); err != nil {
			if fault := pipe.Err(); fault != nil {
				return fault
			}
			err = &domain.TransferError{Digest: task.Digest, Kind: domain.SourceUnreachable, Err: fmt.Errorf("read from %s: %w", from, err)}
			pipe.Fault(err)
			return err
		}
		return pipe.CompleteWriting()
	})

	// Upload unit: pipe → destination.
	rep := e.reporter(task, size)
	var uploadErr error
	g.Go(func() error {
		err := e.dst.Remote.UploadBlob(gctx, task.Digest, relayBody{rep.Reader(pipe), pipe}, size)
		if err == nil {
			return nil
		}
		if fault := pipe.Err(); fault != nil && !errors.Is(fault, relay.ErrReaderClosed) {
			return fault
		}
		uploadErr = uploadError(task.Digest, err)
		pipe.Fault(uploadErr)
		return uploadErr
	})

	if err := g.Wait(); err != nil {
		// The pipe holds whichever fault was raised first. ErrReaderClosed
		// only means the destination hung up; its answer is the real cause.
		fault := pipe.Err()
		switch {
		case errors.Is(fault, relay.ErrReaderClosed) && uploadErr != nil:
			err = uploadErr
		case fault != nil:
			err = fault
		}
		return rep.Transferred(), err
	}
	metrics.RelayPeakBytes.Observe(float64(pipe.Peak()))
	rep.Finish()
	return rep.Transferred(), nil
}

// uploadError classifies a failed POST to the destination: 400 means the
// servers disagree on digests or versions, anything else is a rejection.
func uploadError(d domain.Digest, err error) error {
	var se *remote.StatusError
	if errors.As(err, &se) {
		kind := domain.DestinationRejected
		if se.Code == http.StatusBadRequest {
			kind = domain.IncompatibleVersion
		}
		return &domain.TransferError{Digest: d, Kind: kind, StatusCode: se.Code, Err: errors.New(se.Message)}
	}
	return &domain.TransferError{Digest: d, Kind: domain.DestinationRejected, Err: err}
}
