package audio

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operating sample rates: the provider-side rates the pipeline resamples
// to, and the switch-side rates for each wire format.
const (
	RateOpenAI      = 24000
	RateElevenLabs  = 16000
	RateSwitchPCM16 = 16000
	RateSwitchULaw  = 8000
)

// bargeInMinPlaybackMS is the minimum elapsed playback time before a
// barge-in can fire, preventing the echo of the agent's own greeting
// from immediately triggering one.
const bargeInMinPlaybackMS = 300 * time.Millisecond

// PipelineStats is a point-in-time snapshot of pipeline health, exposed
// for RealtimeSession to fold into call-level metrics.
type PipelineStats struct {
	InboundFrames    int64
	OutboundFrames   int64
	JitterDepth      int
	JitterDropped    int64
	ResampleInRate   int
	ResampleOutRate  int
	VADState         VADState
}

// Pipeline implements a two-direction AudioPipeline: codec conversion,
// echo cancellation, VAD/hysteresis, resampling, jitter buffering and
// barge-in arbitration, decoupled per direction exactly as
// AudioStreamBridge decouples routePhoneToAI from routeAIToPhone with
// independent goroutines and channels.
type Pipeline struct {
	mu sync.Mutex

	switchFormat   string // "g711" or "pcm16"
	switchRate     int
	providerRate   int

	aec *EchoCanceller
	vad *VAD
	jb  *JitterBuffer

	playbackStartedAt time.Time
	playbackActive    bool

	limiter *rate.Limiter

	stats PipelineStats

	onSpeechStart func()
	onSpeechEnd   func()
	onBargeIn     func()
}

// Config bundles pipeline construction parameters.
type Config struct {
	SwitchFormat    string
	SwitchRate      int
	ProviderRate    int
	VADThreshold    float64
	SilenceDuration time.Duration
	OnSpeechStart   func()
	OnSpeechEnd     func()
	OnBargeIn       func()
}

// New builds a pipeline for one call.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		switchFormat:  cfg.SwitchFormat,
		switchRate:    cfg.SwitchRate,
		providerRate:  cfg.ProviderRate,
		aec:           NewEchoCanceller(cfg.SwitchRate),
		vad:           NewVAD(cfg.VADThreshold, cfg.SilenceDuration),
		jb:            NewJitterBuffer(),
		limiter:       rate.NewLimiter(rate.Every(frameDuration), 1),
		onSpeechStart: cfg.OnSpeechStart,
		onSpeechEnd:   cfg.OnSpeechEnd,
		onBargeIn:     cfg.OnBargeIn,
	}
}

// ProcessInbound runs one 20ms frame of switch audio through the
// inbound chain (expand → AEC → VAD → resample) and returns the
// linear-16 samples at the provider's rate, ready for the provider
// adapter to encode and send.
func (p *Pipeline) ProcessInbound(at time.Time, raw []byte) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var linear []int16
	if p.switchFormat == "g711" {
		linear = ULawToLinear(raw)
	} else {
		linear = bytesToLinear(raw)
	}

	cleaned := p.aec.Cancel(at, linear)

	ev := p.vad.Process(cleaned)
	switch ev {
	case EventSpeechStart:
		if p.onSpeechStart != nil {
			p.onSpeechStart()
		}
		p.maybeBargeIn(at)
	case EventSpeechEnd:
		if p.onSpeechEnd != nil {
			p.onSpeechEnd()
		}
	}

	p.stats.InboundFrames++
	out := Resample(cleaned, p.switchRate, p.providerRate)
	p.stats.ResampleInRate = p.providerRate
	return out
}

// maybeBargeIn fires onBargeIn only when every arbitration condition
// holds: playback in progress, >=300ms elapsed since it started, and
// VAD onset on the echo-cancelled inbound signal (which the caller has
// already confirmed by the time this runs). The caller (the session
// orchestrator) still owns feeding the state-machine guard — this only
// decides whether the pipeline itself thinks a barge-in is warranted.
func (p *Pipeline) maybeBargeIn(at time.Time) {
	if !p.playbackActive {
		return
	}
	if at.Sub(p.playbackStartedAt) < bargeInMinPlaybackMS {
		return
	}
	if p.onBargeIn != nil {
		p.onBargeIn()
	}
}

// StartPlayback marks playback as beginning now, resetting the
// elapsed-playback clock used by barge-in arbitration.
func (p *Pipeline) StartPlayback(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playbackActive = true
	p.playbackStartedAt = at
}

// StopPlayback marks playback as finished.
func (p *Pipeline) StopPlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playbackActive = false
}

// PushOutbound decodes one provider audio frame into the outbound
// jitter buffer.
func (p *Pipeline) PushOutbound(providerLinear []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resampled := Resample(providerLinear, p.providerRate, p.switchRate)
	p.jb.Push(linearToBytes(resampled))
	p.stats.ResampleOutRate = p.switchRate
}

// PullOutbound pops the oldest buffered frame for the switch, compressed
// to the negotiated wire format, and records it as the AEC reference
// signal stamped with the send time at, which is what the echo canceller
// aligns against; no separate playback cursor is kept.
func (p *Pipeline) PullOutbound(at time.Time) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, ok := p.jb.Pop()
	if !ok {
		return nil, false
	}
	p.stats.OutboundFrames++

	linear := bytesToLinear(raw)
	p.aec.ObservePlayback(at, linear)

	if p.switchFormat == "g711" {
		return LinearToULaw(linear), true
	}
	return linearToBytes(linear), true
}

// Pace blocks until it is time to emit the next outbound frame, holding
// outbound delivery to the switch's 20ms real-time cadence. It returns
// early with ctx.Err() if ctx is cancelled first, so the outbound loop
// can exit on call teardown without waiting out a full frame interval.
func (p *Pipeline) Pace(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// OnBargeIn flushes queued outbound audio and resets playback state.
func (p *Pipeline) OnBargeIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jb.Flush()
	p.playbackActive = false
}

// Stats returns a snapshot of the pipeline's current counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.JitterDepth = p.jb.Depth()
	s.JitterDropped = p.jb.Dropped()
	s.VADState = p.vad.State()
	return s
}

func bytesToLinear(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func linearToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
