// Package render serializes render requests from many producers onto the one
// native renderer instance. Producers submit jobs to a bounded FIFO queue; a
// single executor goroutine owns the renderer and runs the jobs in order.
package render

import (
	"sync"
	"time"
)

// BytesPerPixel of every frame: RGBA, 8 bits per channel.
const BytesPerPixel = 4

// MaxDimension caps a configurable frame edge.
const MaxDimension = 16384

// Resolution is the output size of a frame in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both edges are positive and within MaxDimension.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.Width <= MaxDimension && r.Height <= MaxDimension
}

// FrameSize is the byte length of an RGBA frame at r.
func (r Resolution) FrameSize() int {
	return r.Width * r.Height * BytesPerPixel
}

// PixelBuffer is one rendered frame. Pix holds Width*Height RGBA pixels, rows
// top to bottom.
type PixelBuffer struct {
	Width         int
	Height        int
	BytesPerPixel int
	Pix           []byte
}

func (p PixelBuffer) Resolution() Resolution {
	return Resolution{Width: p.Width, Height: p.Height}
}

// Result is delivered to a job's completion sink exactly once.
type Result struct {
	JobID string
	Frame PixelBuffer
	Err   error

	// Waited is the time spent in the queue, Took the time spent rendering.
	Waited time.Duration
	Took   time.Duration
}

// Item is anything the queue can hold.
type Item interface {
	ItemID() string
}

// Job is one submitted render request. It is immutable after creation apart
// from its completion state.
type Job struct {
	ID      string
	Payload []byte
	// Resolution observed at submission. The frame is rendered at the
	// resolution current when the job executes.
	Resolution  Resolution
	SubmittedAt time.Time

	once sync.Once
	done func(Result)
}

func newJob(id string, payload []byte, res Resolution, done func(Result)) *Job {
	return &Job{
		ID:          id,
		Payload:     payload,
		Resolution:  res,
		SubmittedAt: time.Now(),
		done:        done,
	}
}

func (j *Job) ItemID() string { return j.ID }

// complete delivers r to the completion sink. Calls after the first are no-ops.
func (j *Job) complete(r Result) bool {
	delivered := false
	j.once.Do(func() {
		delivered = true
		r.JobID = j.ID
		if j.done != nil {
			j.done(r)
		}
	})
	return delivered
}

// configureItem is a resolution change ordered with the jobs around it.
type configureItem struct {
	id   string
	res  Resolution
	done chan error
}

func (c *configureItem) ItemID() string { return c.id }
