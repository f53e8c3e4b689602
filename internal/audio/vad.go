package audio

import (
	"math"
	"time"
)

// frameDuration is the fixed packetization interval used throughout the
// pipeline: 20ms frames at 8kHz = 160 samples/frame.
const frameDuration = 20 * time.Millisecond

// consecutiveFramesToStart is the hysteresis count for declaring speech
// onset: 3 consecutive above-threshold frames (60ms).
const consecutiveFramesToStart = 3

// VADState is the caller's current speech/silence classification.
type VADState int

const (
	VADSilence VADState = iota
	VADSpeaking
)

// VAD is an RMS-energy voice activity detector with onset/offset
// hysteresis, grounded on semanticEndpointDispatchState's
// bucketed-change-detection pattern in internal/voice/endpointing.go:
// state only flips once a run of consistent frames clears a threshold,
// never on a single frame.
type VAD struct {
	threshold       float64
	silenceDuration time.Duration

	state          VADState
	aboveRun       int
	silenceElapsed time.Duration
}

// NewVAD builds a detector. threshold is an RMS energy cutoff in [0,1]
// of full scale; silenceDuration is how long sub-threshold energy must
// persist before USER_SPEECH_END is declared.
func NewVAD(threshold float64, silenceDuration time.Duration) *VAD {
	return &VAD{threshold: threshold, silenceDuration: silenceDuration, state: VADSilence}
}

// Event is returned by Process when a state transition occurs.
type Event int

const (
	EventNone Event = iota
	EventSpeechStart
	EventSpeechEnd
)

// Process classifies one 20ms frame of linear samples and returns any
// transition. The caller owns driving the cadence; Process does not read
// the clock itself so tests can feed synthetic frames.
func (v *VAD) Process(samples []int16) Event {
	energy := rmsEnergy(samples)
	above := energy >= v.threshold

	switch v.state {
	case VADSilence:
		if above {
			v.aboveRun++
			if v.aboveRun >= consecutiveFramesToStart {
				v.state = VADSpeaking
				v.aboveRun = 0
				v.silenceElapsed = 0
				return EventSpeechStart
			}
		} else {
			v.aboveRun = 0
		}
		return EventNone
	case VADSpeaking:
		if above {
			v.silenceElapsed = 0
			return EventNone
		}
		v.silenceElapsed += frameDuration
		if v.silenceElapsed >= v.silenceDuration {
			v.state = VADSilence
			v.silenceElapsed = 0
			v.aboveRun = 0
			return EventSpeechEnd
		}
		return EventNone
	}
	return EventNone
}

// State returns the detector's current classification.
func (v *VAD) State() VADState {
	return v.state
}

func rmsEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sumSq += f * f
	}
	meanSq := sumSq / float64(len(samples))
	return math.Sqrt(meanSq)
}
