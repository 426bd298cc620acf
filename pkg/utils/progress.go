package utils

import (
	"fmt"
	"io"
	"time"
)

// ProgressReader wraps an io.Reader and reports transferred bytes at most
// once per interval.
type ProgressReader struct {
	reader      io.Reader
	total       int64
	read        int64
	description string
	interval    time.Duration
	lastUpdate  time.Time
	startTime   time.Time
	report      func(string)
}

// NewProgressReader creates a progress reader; report receives one formatted
// line per update and may be nil to disable output.
func NewProgressReader(r io.Reader, total int64, description string, report func(string)) *ProgressReader {
	now := time.Now()
	return &ProgressReader{
		reader:      r,
		total:       total,
		description: description,
		interval:    2 * time.Second,
		lastUpdate:  now,
		startTime:   now,
		report:      report,
	}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.read += int64(n)

	if pr.report != nil && time.Since(pr.lastUpdate) >= pr.interval {
		pr.report(pr.line())
		pr.lastUpdate = time.Now()
	}
	return n, err
}

// Add advances the counter without reading, for callers that push data
// through other means.
func (pr *ProgressReader) Add(n int64) {
	pr.read += n
	if pr.report != nil && time.Since(pr.lastUpdate) >= pr.interval {
		pr.report(pr.line())
		pr.lastUpdate = time.Now()
	}
}

// Transferred returns the number of bytes seen so far
func (pr *ProgressReader) Transferred() int64 {
	return pr.read
}

// Finish reports the final line
func (pr *ProgressReader) Finish() {
	if pr.report == nil {
		return
	}
	elapsed := time.Since(pr.startTime)
	pr.report(fmt.Sprintf("%s: %s in %v", pr.description, FormatBytes(pr.read), elapsed.Round(time.Second)))
}

func (pr *ProgressReader) line() string {
	if pr.total <= 0 {
		return fmt.Sprintf("%s: %s", pr.description, FormatBytes(pr.read))
	}

	percentage := float64(pr.read) / float64(pr.total) * 100
	elapsed := time.Since(pr.startTime)

	var eta string
	if pr.read > 0 {
		totalTime := time.Duration(float64(elapsed) * float64(pr.total) / float64(pr.read))
		if remaining := totalTime - elapsed; remaining > 0 {
			eta = fmt.Sprintf(" ETA: %v", remaining.Round(time.Second))
		}
	}

	return fmt.Sprintf("%s: %.1f%% (%s/%s)%s", pr.description, percentage, FormatBytes(pr.read), FormatBytes(pr.total), eta)
}

// FormatBytes renders a byte count in binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
