// Package logverify checks the structured-log artifacts a tunnel
// daemon produces: expected content within a bounded scan, JSON record
// shape, and the directory rotation policy.
package logverify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/loykin/tunnelcheck/internal/retry"
)

// MaxScanLines bounds every line scan so pathological output cannot
// stall verification.
const MaxScanLines = 50

// Required fields of every structured log record.
var requiredFields = []string{"level", "time", "message"}

// ExpectInLines scans at most maxScan lines for substr.
func ExpectInLines(lines []string, substr string, maxScan int) error {
	if maxScan <= 0 {
		maxScan = MaxScanLines
	}
	n := len(lines)
	if n > maxScan {
		n = maxScan
	}
	for _, line := range lines[:n] {
		if strings.Contains(line, substr) {
			return nil
		}
	}
	return fmt.Errorf("%q not found in first %d of %d lines", substr, n, len(lines))
}

// ExpectProcessLine polls a live output snapshot (e.g. captured child
// stderr) until substr appears within the scan bound or the retry
// budget runs out.
func ExpectProcessLine(ctx context.Context, snapshot func() []string, substr string, policy retry.Policy) error {
	return retry.Do(ctx, policy, func(context.Context) error {
		return ExpectInLines(snapshot(), substr, MaxScanLines)
	})
}

// ExpectInFile scans at most maxScan lines of the file for substr.
func ExpectInFile(path, substr string, maxScan int) error {
	if maxScan <= 0 {
		maxScan = MaxScanLines
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanned := 0
	for sc.Scan() && scanned < maxScan {
		scanned++
		if strings.Contains(sc.Text(), substr) {
			return nil
		}
	}
	return fmt.Errorf("log file %s does not contain %q within %d lines", path, substr, scanned)
}

// CheckJSONRecords verifies that lines of the file (up to maxScan)
// parse as JSON objects carrying level, time and message fields.
func CheckJSONRecords(path string, maxScan int) error {
	if maxScan <= 0 {
		maxScan = MaxScanLines
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() && lineNo < maxScan {
		lineNo++
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s line %d is not a JSON record: %w (line: %q)", path, lineNo, err, sc.Text())
		}
		for _, field := range requiredFields {
			if _, ok := rec[field]; !ok {
				return fmt.Errorf("%s line %d is missing field %q: %s", path, lineNo, field, sc.Text())
			}
		}
	}
	if lineNo == 0 {
		return fmt.Errorf("log file %s is empty", path)
	}
	return nil
}
