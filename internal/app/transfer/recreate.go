package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
	"github.com/tutu-network/modelctl/internal/infra/remote"
)

// StatusSuccess is the only create status that means the model exists.
const StatusSuccess = "success"

// Recreator registers a model on a destination whose blobs are all present.
type Recreator struct {
	dst Endpoint
	log *logrus.Entry

	// OnStatus, if set, sees every non-empty status line as it arrives.
	OnStatus func(status string)
}

// NewRecreator returns a Recreator for dst.
func NewRecreator(dst Endpoint, log *logrus.Entry) *Recreator {
	return &Recreator{dst: dst, log: log}
}

// Recreate creates model on the destination from def.
func (r *Recreator) Recreate(ctx context.Context, model string, def domain.ModelDefinition) error {
	if r.dst.IsLocal() {
		ref, err := domain.ParseModelRef(model)
		if err != nil {
			return err
		}
		if err := r.dst.Local.CreateModel(ref, def); err != nil {
			return err
		}
		r.status(StatusSuccess)
		return nil
	}

	params, err := domain.CoerceParameters(def.Parameters)
	if err != nil {
		return &domain.ParseError{Model: model, Err: err}
	}
	req := remote.CreateRequest{
		Model:      model,
		Files:      def.Files,
		Template:   def.Template,
		System:     def.System,
		Parameters: params,
		Messages:   def.Messages,
	}
	if def.License != "" {
		req.License = []string{def.License}
	}

	resp, err := r.dst.Remote.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create %s on %s: %w", model, r.dst, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.CreateFailures.Inc()
		return &domain.CreationError{Model: model, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	last, err := r.readStatus(model, resp.Body)
	if err != nil {
		metrics.CreateFailures.Inc()
		return err
	}
	if last != StatusSuccess {
		metrics.CreateFailures.Inc()
		return &domain.CreationError{Model: model, LastStatus: last}
	}
	return nil
}

// readStatus consumes the whole newline-delimited stream and returns the
// last non-empty status. A record carrying an error ends the stream.
func (r *Recreator) readStatus(model string, body io.Reader) (string, error) {
	var last string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			r.log.WithField("line", line).Debug("ignoring unparseable create status line")
			continue
		}
		if rec.Error != "" {
			return last, &domain.CreationError{Model: model, LastStatus: last, Message: rec.Error}
		}
		if rec.Status != "" {
			last = rec.Status
			r.status(rec.Status)
		}
	}
	if err := scanner.Err(); err != nil {
		return last, fmt.Errorf("read create status for %s: %w", model, err)
	}
	return last, nil
}

func (r *Recreator) status(s string) {
	r.log.WithField("status", s).Debug("create status")
	if r.OnStatus != nil {
		r.OnStatus(s)
	}
}

func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
