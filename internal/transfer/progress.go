package transfer

import "fmt"

// Progress messages.
const (
	MessageUploading        = "Uploading file..."
	MessageDownloading      = "Downloading file..."
	MessageUploadComplete   = "Upload complete"
	MessageDownloadComplete = "Download complete"
)

// Progress is one progress event.
type Progress struct {
	Path     string
	Message  string
	Fraction float64
}

// ProgressSink receives progress events. Report is called synchronously on
// the transferring goroutine; events are never buffered or coalesced.
type ProgressSink interface {
	Report(path, message string, fraction float64)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(path, message string, fraction float64)

// Report calls f.
func (f ProgressFunc) Report(path, message string, fraction float64) {
	f(path, message, fraction)
}

type nopSink struct{}

func (nopSink) Report(string, string, float64) {}

// NopSink discards all events.
var NopSink ProgressSink = nopSink{}

func sinkOrNop(s ProgressSink) ProgressSink {
	if s == nil {
		return NopSink
	}
	return s
}

// fraction returns done/total clamped to [0, 1]. An empty object is complete.
func fraction(done, total int64) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(done) / float64(total)
	return min(max(f, 0), 1)
}

func blockMessage(index, count int) string {
	return fmt.Sprintf("block %d/%d", index+1, count)
}
