package atomics

import (
	"fmt"
	"io"

	guda "github.com/LynnColeArt/guda-atomics"
)

//go:generate mockgen -package mocks -destination mocks/mocks.go github.com/LynnColeArt/guda-atomics/internal/atomics Reporter

// Reporter receives progress and the results read back from each
// accelerator. Accelerator is called before any work is launched on dev.
type Reporter interface {
	Accelerator(dev *guda.Device) error
	Result(dev *guda.Device, data []int32) error
}

// WriterReporter prints results as text lines to an io.Writer.
type WriterReporter struct {
	w io.Writer
}

// NewWriterReporter returns a reporter that writes to w.
func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

// Accelerator implements Reporter.
func (r *WriterReporter) Accelerator(dev *guda.Device) error {
	_, err := fmt.Fprintf(r.w, "Performing operations on %s\n", dev)
	return err
}

// Result implements Reporter.
func (r *WriterReporter) Result(_ *guda.Device, data []int32) error {
	for i, v := range data {
		if _, err := fmt.Fprintf(r.w, "Data[%d] = %d\n", i, v); err != nil {
			return err
		}
	}
	return nil
}
