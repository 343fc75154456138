package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/builder"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// DefaultCustomPause is the latency unit of the custom workflow preset.
const DefaultCustomPause = 500 * time.Millisecond

// Data bag keys written by the custom workflow.
const (
	KeyFileSize         = "file_size"
	KeyDownloadSpeed    = "download_speed"
	KeyExtractedFiles   = "extracted_files"
	KeyProcessedRecords = "processed_records"
	KeySource           = "source"
)

// Custom builds DOWNLOAD -> EXTRACT -> PROCESS where every step carries its
// own action. Later steps read what earlier steps stored in their data bags.
// Each action waits a multiple of pause; zero disables the waits.
func Custom(pause time.Duration, opts ...engine.Option) (*engine.Engine, error) {
	var eng *engine.Engine
	upstream := func(id, key string) (any, bool) {
		if eng == nil {
			return nil, false
		}
		step, ok := eng.GetStep(id)
		if !ok {
			return nil, false
		}
		return step.Get(key)
	}

	download := func(ctx context.Context, step *workflow.Step) (bool, error) {
		if err := wait(ctx, 6*pause); err != nil {
			return false, err
		}
		step.Set(KeyFileSize, "2.5 MB")
		step.Set(KeyDownloadSpeed, "1.2 MB/s")
		return true, nil
	}
	extract := func(ctx context.Context, step *workflow.Step) (bool, error) {
		source := "default file"
		if size, ok := upstream("DOWNLOAD", KeyFileSize); ok {
			source = fmt.Sprintf("downloaded file (%v)", size)
		}
		if err := wait(ctx, 3*pause); err != nil {
			return false, err
		}
		step.Set(KeySource, source)
		step.Set(KeyExtractedFiles, 42)
		return true, nil
	}
	process := func(ctx context.Context, step *workflow.Step) (bool, error) {
		files, ok := upstream("EXTRACT", KeyExtractedFiles)
		if !ok {
			files = 0
		}
		if err := wait(ctx, 6*pause); err != nil {
			return false, err
		}
		step.Set(KeySource, fmt.Sprintf("%v files", files))
		step.Set(KeyProcessedRecords, 1250)
		return true, nil
	}

	built, err := builder.New(named(TitleCustom, opts)...).
		StepFunc("DOWNLOAD", "Download File", "Download file from remote server", download).
		StepFunc("EXTRACT", "Extract Archive", "Extract downloaded archive", extract, "DOWNLOAD").
		StepFunc("PROCESS", "Process Files", "Process extracted files", process, "EXTRACT").
		Build()
	eng = built
	return built, err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
