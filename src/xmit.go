package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Assemble the complete on-air sequence for one alert.
 *
 *		header burst x3, one second apart
 *		optional attention tone hold
 *		optional voice payload
 *		one second of silence
 *		end-of-message burst x3, one second apart
 *
 *		This produces PCM and nothing else.  Keying a relay or
 *		transmitter for the duration of the audio is the caller's
 *		business; the composer must not touch hardware.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"
)

// Attention tone variants.  The two-tone signal is the broadcast attention
// signal (853 + 960 Hz); the single tone is the 1050 Hz weather radio
// variant.
type AttentionMode int

const (
	AttentionNone AttentionMode = iota
	AttentionSingle
	AttentionDual
)

const (
	attnSingleFreq = 1050.0
	attnDualLow    = 853.0
	attnDualHigh   = 960.0

	interBurstGap = time.Second
	postPayload   = time.Second

	minAttention = 8 * time.Second
	maxAttention = 25 * time.Second
)

// ComposeOptions selects the optional parts of a transmission.
type ComposeOptions struct {
	SampleRate int // output sample rate, required
	Channels   int // 1 or 2; mono is canonical
	Amplitude  int // percent of full scale; 0 means the default 80

	Attention         AttentionMode
	AttentionDuration time.Duration // 0 means the 8 s minimum

	Payload     []int16 // optional mono voice payload
	PayloadRate int     // sample rate of Payload; 0 means SampleRate
}

// Transmission is composed PCM plus the metadata downstream consumers
// (storage, relay keying, streaming) need.
type Transmission struct {
	PCM        []int16
	SampleRate int
	Channels   int
	Duration   time.Duration

	Header       string
	HasAttention bool
	HasPayload   bool
}

// Compose builds the full transmission for one alert.  Stateless; safe to
// call from any number of goroutines.
func Compose(fields *HeaderFields, opts ComposeOptions) (*Transmission, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("compose: sample rate %d is not positive", opts.SampleRate)
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	if opts.Channels != 1 && opts.Channels != 2 {
		return nil, fmt.Errorf("compose: %d channels unsupported, want 1 or 2", opts.Channels)
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 80
	}

	var attention = opts.AttentionDuration
	if opts.Attention != AttentionNone {
		if attention == 0 {
			attention = minAttention
		}
		if attention < minAttention || attention > maxAttention {
			return nil, fmt.Errorf("compose: attention hold %s outside %s..%s", attention, minAttention, maxAttention)
		}
	}

	var header, headerBits, encodeErr = EncodeHeader(fields, time.Now())
	if encodeErr != nil {
		return nil, encodeErr
	}
	var eomBits = EncodeEOM()

	var g = NewToneGen(opts.SampleRate, opts.Amplitude)
	var pcm []int16

	for i := 0; i < 3; i++ {
		pcm = g.RenderBits(pcm, headerBits)
		pcm = g.Silence(pcm, interBurstGap)
	}

	switch opts.Attention {
	case AttentionSingle:
		pcm = g.Tone(pcm, attnSingleFreq, attention)
		pcm = g.Silence(pcm, interBurstGap)
	case AttentionDual:
		pcm = g.DualTone(pcm, attnDualLow, attnDualHigh, attention)
		pcm = g.Silence(pcm, interBurstGap)
	case AttentionNone:
	}

	if len(opts.Payload) > 0 {
		var payload = opts.Payload
		if opts.PayloadRate > 0 && opts.PayloadRate != opts.SampleRate {
			payload = ResampleLinear(payload, opts.PayloadRate, opts.SampleRate)
		}
		pcm = append(pcm, payload...)
	}
	pcm = g.Silence(pcm, postPayload)

	for i := 0; i < 3; i++ {
		pcm = g.RenderBits(pcm, eomBits)
		pcm = g.Silence(pcm, interBurstGap)
	}

	var monoLen = len(pcm)
	pcm = ReplicateChannels(pcm, opts.Channels)

	return &Transmission{
		PCM:          pcm,
		SampleRate:   opts.SampleRate,
		Channels:     opts.Channels,
		Duration:     time.Duration(monoLen) * time.Second / time.Duration(opts.SampleRate),
		Header:       header,
		HasAttention: opts.Attention != AttentionNone,
		HasPayload:   len(opts.Payload) > 0,
	}, nil
}
