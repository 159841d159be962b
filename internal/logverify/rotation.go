package logverify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/tunnelcheck/internal/logger"
)

// Rotation contract defaults: the daemon rotates after 1 MB and keeps
// exactly one prior file next to the active one.
const (
	DefaultRotateThreshold = 1000 * 1000
	DefaultBatches         = 3
	DefaultBatchRequests   = 1000
)

// RotationCheck drives request batches at a URL until the daemon's log
// directory shows a completed rotation, then validates the invariants.
type RotationCheck struct {
	Dir        string // log directory under inspection
	URL        string // traffic target generating log volume
	ActiveName string // active file name (default logger.DefaultFileName)
	Threshold  int64  // rotated file must exceed this many bytes
	Batches    int
	BatchSize  int
	Substring  string // must appear in the rotated file

	Log *slog.Logger
}

func (rc RotationCheck) withDefaults() RotationCheck {
	if rc.ActiveName == "" {
		rc.ActiveName = logger.DefaultFileName
	}
	if rc.Threshold <= 0 {
		rc.Threshold = DefaultRotateThreshold
	}
	if rc.Batches <= 0 {
		rc.Batches = DefaultBatches
	}
	if rc.BatchSize <= 0 {
		rc.BatchSize = DefaultBatchRequests
	}
	if rc.Log == nil {
		rc.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rc
}

// Run sends up to Batches batches of BatchSize requests. After each
// batch it inspects Dir; once exactly two files exist it checks that
// the active file is growing and JSON-valid and that the rotated file
// crossed the size threshold and contains Substring. Exhausting the
// batch budget without a completed rotation is an error naming the
// unmet invariant.
func (rc RotationCheck) Run(ctx context.Context) error {
	rc = rc.withDefaults()
	for batch := 0; batch < rc.Batches; batch++ {
		if err := rc.sendBatch(ctx); err != nil {
			return err
		}
		entries, err := os.ReadDir(rc.Dir)
		if err != nil {
			return fmt.Errorf("read log dir: %w", err)
		}
		rc.Log.Debug("rotation probe", "batch", batch+1, "files", len(entries))
		if len(entries) != 2 {
			continue
		}
		return rc.verify(entries[0].Name(), entries[1].Name())
	}
	return fmt.Errorf("log dir %s not rotated after %d requests",
		rc.Dir, rc.Batches*rc.BatchSize)
}

func (rc RotationCheck) verify(nameA, nameB string) error {
	rotated := nameA
	if nameA == rc.ActiveName {
		rotated = nameB
	} else if nameB != rc.ActiveName {
		return fmt.Errorf("active log file %q not found in dir %s (have %q, %q)",
			rc.ActiveName, rc.Dir, nameA, nameB)
	}

	active := filepath.Join(rc.Dir, rc.ActiveName)
	st, err := os.Stat(active)
	if err != nil {
		return fmt.Errorf("stat active log: %w", err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("active log %s is empty after rotation", active)
	}
	if err := CheckJSONRecords(active, MaxScanLines); err != nil {
		return fmt.Errorf("active log: %w", err)
	}

	rotatedPath := filepath.Join(rc.Dir, rotated)
	st, err = os.Stat(rotatedPath)
	if err != nil {
		return fmt.Errorf("stat rotated log: %w", err)
	}
	if st.Size() <= rc.Threshold {
		return fmt.Errorf("rotated log %s is %d bytes, expected above the %d byte threshold",
			rotatedPath, st.Size(), rc.Threshold)
	}
	return ExpectInFile(rotatedPath, rc.Substring, MaxScanLines)
}

// sendBatch issues BatchSize GET requests without requiring 2xx
// responses; the point is log volume, not payloads.
func (rc RotationCheck) sendBatch(ctx context.Context) error {
	client := &http.Client{Timeout: 5 * time.Second}
	errors := 0
	for i := 0; i < rc.BatchSize; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			errors++
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errors++
		}
	}
	if errors > 0 {
		rc.Log.Warn("batch requests returned errors", "errors", errors, "total", rc.BatchSize)
	}
	return nil
}
