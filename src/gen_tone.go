package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Convert framed bits and fixed tones into PCM samples.
 *
 * Description:	Direct digital synthesis.  A 32 bit phase accumulator
 *		advances by a per-frequency delta each sample and its top
 *		eight bits index a 256 entry sine table.  Mark and space
 *		share the accumulator, so the waveform is phase continuous
 *		across symbol boundaries - a phase jump would click and
 *		cost decodability.
 *
 *		The bit time (1/520.83 s) is not a whole number of samples
 *		at any common rate.  Fractional sample counts accumulate
 *		in integer ticks, the same scheme the bit clock uses, so
 *		the long run symbol rate stays exact.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"time"
)

const ticksPerCycle = int64(1) << 32

// ToneGen synthesizes PCM at one sample rate.  Samples are 16 bit signed,
// mono; ReplicateChannels widens for stereo sinks.  Not safe for concurrent
// use; callers that render in parallel each get their own.
type ToneGen struct {
	sampleRate int
	sine       [256]int16

	phase          uint32
	markDelta      uint32
	spaceDelta     uint32
	ticksPerSample int64
	ticksPerBit    int64
	bitLenAcc      int64
}

// NewToneGen prepares a synthesizer.  Amplitude is a percentage of full
// scale, 0..100.
func NewToneGen(sampleRate int, amplitude int) *ToneGen {
	var g = &ToneGen{
		sampleRate:     sampleRate,
		markDelta:      phaseDelta(MarkFreq, sampleRate),
		spaceDelta:     phaseDelta(SpaceFreq, sampleRate),
		ticksPerSample: int64(math.Round(float64(ticksPerCycle) / float64(sampleRate))),
		ticksPerBit:    int64(math.Floor(float64(ticksPerCycle)/SameBaud + 0.5)),
	}

	for j := 0; j < 256; j++ {
		var a = (float64(j) / 256.0) * (2.0 * math.Pi)
		var s = math.Sin(a) * 32767 * float64(amplitude) / 100.0
		if s > 32767 {
			s = 32767
		} else if s < -32767 {
			s = -32767
		}
		g.sine[j] = int16(s)
	}

	return g
}

func phaseDelta(freq float64, sampleRate int) uint32 {
	return uint32(math.Round(freq * float64(ticksPerCycle) / float64(sampleRate)))
}

// RenderBits appends the AFSK rendering of the bitstream to dst.  A one is
// the mark tone, a zero the space tone, each held for one bit time.
func (g *ToneGen) RenderBits(dst []int16, b []byte) []int16 {
	for _, bit := range b {
		var delta = g.spaceDelta
		if bit != 0 {
			delta = g.markDelta
		}
		for {
			g.phase += delta
			dst = append(dst, g.sine[(g.phase>>24)&0xff])

			g.bitLenAcc += g.ticksPerSample
			if g.bitLenAcc >= g.ticksPerBit {
				break
			}
		}
		g.bitLenAcc -= g.ticksPerBit
	}
	return dst
}

// Tone appends a single fixed-frequency sinusoid held for the duration.
func (g *ToneGen) Tone(dst []int16, freq float64, d time.Duration) []int16 {
	var delta = phaseDelta(freq, g.sampleRate)
	for i, n := 0, g.samples(d); i < n; i++ {
		g.phase += delta
		dst = append(dst, g.sine[(g.phase>>24)&0xff])
	}
	return dst
}

// DualTone appends the sum of two sinusoids at half amplitude each, as used
// by the two-tone attention signal.
func (g *ToneGen) DualTone(dst []int16, f1 float64, f2 float64, d time.Duration) []int16 {
	var d1 = phaseDelta(f1, g.sampleRate)
	var d2 = phaseDelta(f2, g.sampleRate)
	var p2 = g.phase
	for i, n := 0, g.samples(d); i < n; i++ {
		g.phase += d1
		p2 += d2
		var s = (int32(g.sine[(g.phase>>24)&0xff]) + int32(g.sine[(p2>>24)&0xff])) / 2
		dst = append(dst, int16(s))
	}
	return dst
}

// Silence appends zero samples and resets the phase so the next tone does
// not start with an abrupt jump.
func (g *ToneGen) Silence(dst []int16, d time.Duration) []int16 {
	for i, n := 0, g.samples(d); i < n; i++ {
		dst = append(dst, 0)
	}
	g.phase = 0
	g.bitLenAcc = 0
	return dst
}

func (g *ToneGen) samples(d time.Duration) int {
	return int(d.Seconds()*float64(g.sampleRate) + 0.5)
}

// ReplicateChannels turns mono PCM into n interleaved channels carrying the
// same signal.  Mono input is returned unchanged for n == 1.
func ReplicateChannels(mono []int16, n int) []int16 {
	if n <= 1 {
		return mono
	}
	var out = make([]int16, 0, len(mono)*n)
	for _, s := range mono {
		for c := 0; c < n; c++ {
			out = append(out, s)
		}
	}
	return out
}

// ResampleLinear converts PCM between sample rates with linear
// interpolation.  Good enough for splicing voice payloads recorded at a
// different rate; the synthesized tones are always generated directly at
// the target rate and never pass through here.
func ResampleLinear(in []int16, from int, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	var n = int(float64(len(in)) * float64(to) / float64(from))
	var out = make([]int16, n)
	for i := 0; i < n; i++ {
		var pos = float64(i) * float64(from) / float64(to)
		var j = int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		var frac = pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}

// Downmix averages interleaved multichannel PCM to mono.
func Downmix(in []int16, channels int) []int16 {
	if channels <= 1 {
		return in
	}
	var out = make([]int16, 0, len(in)/channels)
	for i := 0; i+channels <= len(in); i += channels {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(in[i+c])
		}
		out = append(out, int16(sum/int32(channels)))
	}
	return out
}
