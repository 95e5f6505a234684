package watcher

import (
	"context"
	"errors"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
)

// RunHandler returns a Handler that runs each batch through r as a list source named name.
func RunHandler(r *runner.Runner, name string, opts runner.Options) Handler {
	return func(ctx context.Context, paths []string) error {
		src := models.SourceDescriptor{Kind: models.SourceList, Name: name, Paths: paths}
		_, err := r.TryRun(ctx, src, opts)
		return err
	}
}

// IsBusy reports whether a batch was refused because another run was in progress.
// Use it with WithRetry so the batch is retried after the next debounce.
func IsBusy(err error) bool {
	return errors.Is(err, runner.ErrBusy)
}
