// Package sensor turns polled PLC sensor coils into sensor check commands.
//
// A Detector keeps the last value it saw for one input and reports edges.
// Read failures never change that state, so a flaky bus read between two
// identical samples doesn't produce a spurious pair of edges. A Poller owns
// one Detector per input and invokes the input's command on every edge.
package sensor

// Sample values besides 0 and 1.
const (
	// Unknown is the state before the first successful read.
	Unknown = -2
	// ReadError is a sample whose read failed.
	ReadError = -1
)

// Detector tracks one input. Not safe for concurrent use; a Poller owns its
// detectors on a single goroutine.
type Detector struct {
	last int
}

// NewDetector returns a detector in the Unknown state.
func NewDetector() *Detector {
	return &Detector{last: Unknown}
}

// Observe feeds one sample (0, 1 or ReadError). It reports whether the
// sample differs from the last good one, and whether the input is high.
func (d *Detector) Observe(sample int) (fired bool, high bool) {
	if sample == ReadError {
		return false, d.last == 1
	}
	high = sample == 1
	if sample == d.last {
		return false, high
	}
	d.last = sample
	return true, high
}

// Last returns the last good sample, or Unknown.
func (d *Detector) Last() int { return d.last }

// sample converts a coil read into a Detector sample.
func sample(on bool, err error) int {
	switch {
	case err != nil:
		return ReadError
	case on:
		return 1
	default:
		return 0
	}
}
