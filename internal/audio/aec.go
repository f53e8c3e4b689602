package audio

import "time"

// aecTailMS is the adaptive filter length (128ms), expressed as a
// sample count once the operating rate is known.
const aecTailMS = 128

// EchoCanceller removes the outbound (agent) signal's contribution from
// the inbound (caller) signal using a Speex-style normalized least-mean-
// squares adaptive filter, referencing recent playback by timestamp
// rather than arrival order, since no cross-stream ordering is
// guaranteed between inbound and outbound audio travelling on
// independent goroutines — only explicit timestamps are.
type EchoCanceller struct {
	rate     int
	tailLen  int
	weights  []float64
	ref      []refFrame
}

type refFrame struct {
	at      time.Time
	samples []int16
}

// NewEchoCanceller builds a canceller operating at the given sample rate.
func NewEchoCanceller(rate int) *EchoCanceller {
	return &EchoCanceller{
		rate:    rate,
		tailLen: rate * aecTailMS / 1000,
		weights: make([]float64, rate*aecTailMS/1000),
	}
}

// ObservePlayback records a frame of outbound audio actually sent to the
// caller, timestamped at send time, so Cancel can align against it even
// though the inbound read loop runs on a separate goroutine.
func (e *EchoCanceller) ObservePlayback(at time.Time, samples []int16) {
	e.ref = append(e.ref, refFrame{at: at, samples: samples})
	cutoff := at.Add(-2 * aecTailMS * time.Millisecond)
	i := 0
	for i < len(e.ref) && e.ref[i].at.Before(cutoff) {
		i++
	}
	e.ref = e.ref[i:]
}

// Cancel subtracts the estimated echo from one inbound frame captured at
// the given time, adapting the filter weights by normalized LMS.
func (e *EchoCanceller) Cancel(at time.Time, inbound []int16) []int16 {
	refSamples := e.referenceAt(at)
	if len(refSamples) == 0 {
		out := make([]int16, len(inbound))
		copy(out, inbound)
		return out
	}

	out := make([]int16, len(inbound))
	const mu = 0.01
	var energy float64
	for _, r := range refSamples {
		f := float64(r) / 32768.0
		energy += f * f
	}
	energy += 1e-6

	// The newest reference frame is the playback concurrent with this
	// inbound frame, so inbound[n] lines up with refSamples[base+n].
	base := len(refSamples) - len(inbound)
	for n := range inbound {
		var estimate float64
		for k := 0; k < e.tailLen; k++ {
			idx := base + n - k
			if idx < 0 {
				break
			}
			estimate += e.weights[k] * float64(refSamples[idx]) / 32768.0
		}
		x := float64(inbound[n]) / 32768.0
		err := x - estimate
		out[n] = clampInt16(err * 32768.0)

		for k := 0; k < e.tailLen; k++ {
			idx := base + n - k
			if idx < 0 {
				break
			}
			e.weights[k] += mu * err * float64(refSamples[idx]) / 32768.0 / energy
		}
	}
	return out
}

func (e *EchoCanceller) referenceAt(at time.Time) []int16 {
	window := at.Add(-aecTailMS * time.Millisecond)
	var out []int16
	for _, f := range e.ref {
		if f.at.Before(window) {
			continue
		}
		if f.at.After(at) {
			break
		}
		out = append(out, f.samples...)
	}
	return out
}
