package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Prompter asks the user where to save the archive.
type Prompter interface {
	// PromptSavePath shows a save-as prompt pre-filled with suggested.
	// ok is false when the user cancelled.
	PromptSavePath(ctx context.Context, suggested string) (path string, ok bool, err error)
}

// PromptStrategy is the interactive save-as dialog. It is unavailable when
// the process is not attached to a terminal.
type PromptStrategy struct {
	Prompter    Prompter
	Interactive bool
	// Dir is where a bare file name is resolved. Empty means the working directory.
	Dir string
	// Overwrite allows replacing an existing file.
	Overwrite bool
}

// Name implements Strategy.
func (s *PromptStrategy) Name() string { return "prompt" }

// Acquire implements Strategy.
func (s *PromptStrategy) Acquire(ctx context.Context, suggestedName string) (Result, error) {
	if s.Prompter == nil {
		return UnavailableResult("no prompter configured"), nil
	}
	if !s.Interactive {
		return UnavailableResult("not attached to a terminal"), nil
	}

	suggested := suggestedName
	if s.Dir != "" {
		suggested = filepath.Join(s.Dir, suggestedName)
	}

	path, ok, err := s.Prompter.PromptSavePath(ctx, suggested)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return CancelledResult(), nil
	}
	if path == "" {
		return Result{}, errors.New("selected an empty path")
	}

	// A directory selection keeps the suggested name.
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		path = filepath.Join(path, suggestedName)
	}

	fs, err := openFileSink(path, s.Overwrite)
	if err != nil {
		return Result{}, err
	}
	return AcquiredResult(&Acquisition{
		Name:     filepath.Base(path),
		Location: path,
		Sink:     fs,
	}), nil
}
