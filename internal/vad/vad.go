// Package vad implements the energy based voice activity detector that gates
// both directions of a realtime session: which client frames are forwarded
// upstream, and when withheld model audio may be played back.
package vad

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultThreshold = 0.015
	DefaultHangover  = 300 * time.Millisecond
)

// RMS returns the root mean square of little-endian PCM16 samples normalised
// to [-1, 1]. An empty frame has an RMS of 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2])|uint16(pcm[i*2+1])<<8)) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Result describes one processed frame.
type Result struct {
	RMS      float64
	Speech   bool // this frame is above threshold
	Started  bool // this frame moved the detector from silent to speaking
	Speaking bool // detector state after the frame
	Spurt    uint64
}

// Detector is a debounced Silent/Speaking state machine. A speech frame
// (re)arms a hangover timer; when it elapses without further speech the
// detector goes silent and the silence callback runs on the timer goroutine
// with the id of the spurt that just ended. Spurt ids start at 1 and grow by
// one on every silent to speaking transition.
type Detector struct {
	mu         sync.Mutex
	threshold  float64
	hangover   time.Duration
	speaking   bool
	lastSpeech time.Time
	timer      *time.Timer
	gen        uint64
	stopped    bool
	spurt      uint64
	onSilence  func(spurt uint64)
}

// New returns a silent detector. Non-positive arguments fall back to the
// defaults.
func New(threshold float64, hangover time.Duration, onSilence func(spurt uint64)) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if hangover <= 0 {
		hangover = DefaultHangover
	}
	return &Detector{threshold: threshold, hangover: hangover, onSilence: onSilence}
}

func (d *Detector) Threshold() float64 { return d.threshold }

func (d *Detector) Hangover() time.Duration { return d.hangover }

// Process classifies a PCM16 frame and advances the state machine.
func (d *Detector) Process(pcm []byte) Result {
	rms := RMS(pcm)
	metricFrames.Inc()

	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{RMS: rms, Speech: rms >= d.threshold}
	if d.stopped {
		return res
	}
	if res.Speech {
		if !d.speaking {
			d.speaking = true
			d.spurt++
			res.Started = true
			metricStarts.Inc()
		}
		d.lastSpeech = time.Now()
		d.armLocked()
	}
	res.Speaking = d.speaking
	res.Spurt = d.spurt
	return res
}

// armLocked cancels any pending hangover and schedules a fresh one. Each
// timer carries the generation it was armed with so a timer that already
// fired but lost the race for mu cannot flip the state.
func (d *Detector) armLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.hangover, func() { d.expire(gen) })
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || !d.speaking {
		d.mu.Unlock()
		return
	}
	d.speaking = false
	d.timer = nil
	cb, spurt := d.onSilence, d.spurt
	d.mu.Unlock()

	metricEnds.Inc()
	if cb != nil {
		cb(spurt)
	}
}

// Speaking reports the current state.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// LastSpeech is the time of the most recent speech frame.
func (d *Detector) LastSpeech() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSpeech
}

// Stop cancels the pending hangover. After Stop the detector never calls
// OnSilence again. Safe to call more than once.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
