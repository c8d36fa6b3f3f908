package service

import (
	"context"
	"errors"
	"path"

	"github.com/choraleia/shellfs/pkg/service/fs"
)

type BatchOp string

const (
	BatchDelete BatchOp = "delete"
	BatchCopy   BatchOp = "copy"
	BatchMove   BatchOp = "move"
)

// BatchFailure records one entry that could not be processed.
type BatchFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchOutcome reports a batch operation entry by entry. Entries never
// attempted because the batch was cancelled are listed in Skipped.
type BatchOutcome struct {
	Done      []string       `json:"done"`
	Failed    []BatchFailure `json:"failed,omitempty"`
	Skipped   []string       `json:"skipped,omitempty"`
	Cancelled bool           `json:"cancelled"`
}

// Err summarizes the outcome: context.Canceled when cancelled, an error when
// any entry failed, nil otherwise.
func (o BatchOutcome) Err() error {
	if o.Cancelled {
		return context.Canceled
	}
	if len(o.Failed) > 0 {
		return &BatchError{Failed: o.Failed}
	}
	return nil
}

type BatchError struct {
	Failed []BatchFailure
}

func (e *BatchError) Error() string {
	if len(e.Failed) == 1 {
		return e.Failed[0].Path + ": " + e.Failed[0].Error
	}
	return e.Failed[0].Path + ": " + e.Failed[0].Error + " (and more failures)"
}

// BatchProgress is called after each attempted entry.
type BatchProgress func(done, failed, total int, p string)

// DeleteAll deletes every path, stopping between entries once ctx ends.
func (s *FSService) DeleteAll(ctx context.Context, b fs.Backend, paths []string, progress BatchProgress) BatchOutcome {
	return s.runBatch(ctx, paths, progress, func(p string) error {
		return s.Remove(ctx, b, p)
	})
}

// CopyAll copies every path into targetDir, keeping base names.
func (s *FSService) CopyAll(ctx context.Context, b fs.Backend, paths []string, targetDir string, progress BatchProgress) BatchOutcome {
	return s.runBatch(ctx, paths, progress, func(p string) error {
		to, err := intoDir(p, targetDir)
		if err != nil {
			return err
		}
		return s.Copy(ctx, b, p, to)
	})
}

// MoveAll moves every path into targetDir, keeping base names.
func (s *FSService) MoveAll(ctx context.Context, b fs.Backend, paths []string, targetDir string, progress BatchProgress) BatchOutcome {
	return s.runBatch(ctx, paths, progress, func(p string) error {
		to, err := intoDir(p, targetDir)
		if err != nil {
			return err
		}
		return s.Move(ctx, b, p, to)
	})
}

func (s *FSService) runBatch(ctx context.Context, paths []string, progress BatchProgress, op func(string) error) BatchOutcome {
	out := BatchOutcome{Done: []string{}}
	for i, p := range paths {
		if ctx.Err() != nil {
			out.Cancelled = true
			out.Skipped = append([]string(nil), paths[i:]...)
			break
		}
		err := op(p)
		switch {
		case err == nil:
			out.Done = append(out.Done, p)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// The entry was interrupted mid-way; its state is unknown.
			out.Cancelled = true
			out.Failed = append(out.Failed, BatchFailure{Path: p, Error: err.Error()})
			out.Skipped = append([]string(nil), paths[i+1:]...)
		default:
			s.logger.Debug("Batch entry failed", "path", p, "error", err)
			out.Failed = append(out.Failed, BatchFailure{Path: p, Error: err.Error()})
		}
		if progress != nil {
			progress(len(out.Done), len(out.Failed), len(paths), p)
		}
		if out.Cancelled {
			break
		}
	}
	return out
}

func intoDir(p, dir string) (string, error) {
	src, err := cleanAbs(p)
	if err != nil {
		return "", err
	}
	dst, err := cleanAbs(dir)
	if err != nil {
		return "", err
	}
	return path.Join(dst, path.Base(src)), nil
}
