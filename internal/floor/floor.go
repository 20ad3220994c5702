// Package floor decides who holds the audio floor: while the user is
// speaking, AI audio is withheld and released in order once they stop.
package floor

// Decision represents what the gate wants done with one AI audio chunk.
type Decision struct {
	Emit   bool
	Reason string // e.g., "user_speaking"
}

// Gate is not safe for concurrent use; callers hold the session lock.
type Gate struct {
	speaking bool
	spurt    uint64
	withheld []string
}

func New() *Gate { return &Gate{} }

// OnSpeechStart closes the gate for the given VAD spurt.
func (g *Gate) OnSpeechStart(spurt uint64) {
	g.speaking = true
	if spurt > g.spurt {
		g.spurt = spurt
	}
}

// OnAudio either lets the chunk through or queues it behind the user.
func (g *Gate) OnAudio(chunk string) Decision {
	if g.speaking {
		g.withheld = append(g.withheld, chunk)
		metricWithheld.Inc()
		return Decision{Reason: "user_speaking"}
	}
	return Decision{Emit: true}
}

// OnSpeechEnd reopens the gate and returns the withheld chunks in arrival
// order. A stop for an older spurt than the one in progress is ignored.
func (g *Gate) OnSpeechEnd(spurt uint64) []string {
	if spurt < g.spurt || !g.speaking {
		return nil
	}
	g.speaking = false
	out := g.withheld
	g.withheld = nil
	if len(out) > 0 {
		metricFlushes.Inc()
	}
	return out
}

func (g *Gate) Speaking() bool { return g.speaking }

func (g *Gate) Pending() int { return len(g.withheld) }

// Reset drops anything withheld and reports how many chunks were discarded.
func (g *Gate) Reset() int {
	n := len(g.withheld)
	g.speaking = false
	g.withheld = nil
	return n
}
