package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tutu-network/modelctl/internal/domain"
)

var errNoModels = errors.New("endpoint holds no models")

// List returns the models held at e.
func (e Endpoint) List(ctx context.Context) ([]domain.ModelEntry, error) {
	switch {
	case e.IsLocal():
		return e.Local.List()
	case e.Remote != nil:
		return e.Remote.List(ctx)
	}
	return nil, fmt.Errorf("%s: %w", e, errNoModels)
}

// Remove deletes model from e. Locally, blobs no other model references go
// with it.
func (e Endpoint) Remove(ctx context.Context, model string) error {
	switch {
	case e.IsLocal():
		ref, err := domain.ParseModelRef(model)
		if err != nil {
			return err
		}
		return e.Local.Remove(ref)
	case e.Remote != nil:
		return e.Remote.Delete(ctx, model)
	}
	return fmt.Errorf("%s: %w", e, errNoModels)
}

// Rename gives model a new name on e. Servers have no rename, so it is a
// copy followed by a delete; blobs never move. An existing model under the
// new name is never overwritten.
func (e Endpoint) Rename(ctx context.Context, oldName, newName string) error {
	switch {
	case e.IsLocal():
		src, err := domain.ParseModelRef(oldName)
		if err != nil {
			return err
		}
		dst, err := domain.ParseModelRef(newName)
		if err != nil {
			return err
		}
		if src == dst {
			return nil
		}
		if e.Local.HasModel(dst) {
			return fmt.Errorf("rename %s to %s: %w", src, dst, domain.ErrModelExists)
		}
		if err := e.Local.CopyModel(src, dst); err != nil {
			return err
		}
		return e.Local.Remove(src)
	case e.Remote != nil:
		_, err := e.Remote.Show(ctx, newName)
		switch {
		case err == nil:
			return fmt.Errorf("rename %s to %s on %s: %w", oldName, newName, e, domain.ErrModelExists)
		case !errors.Is(err, domain.ErrModelNotFound):
			return err
		}
		if err := e.Remote.Copy(ctx, oldName, newName); err != nil {
			return err
		}
		return e.Remote.Delete(ctx, oldName)
	}
	return fmt.Errorf("%s: %w", e, errNoModels)
}

// Show returns the Modelfile that describes model on e.
func (e Endpoint) Show(ctx context.Context, model string) (string, error) {
	switch {
	case e.IsLocal():
		ref, err := domain.ParseModelRef(model)
		if err != nil {
			return "", err
		}
		mi, err := e.Local.Show(ref)
		if err != nil {
			return "", err
		}
		return mi.Modelfile, nil
	case e.Remote != nil:
		resp, err := e.Remote.Show(ctx, model)
		if err != nil {
			return "", err
		}
		return resp.Modelfile, nil
	}
	return "", fmt.Errorf("%s: %w", e, errNoModels)
}
