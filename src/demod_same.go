package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Recover SAME headers from a window of PCM samples.
 *
 * Description:	The demodulator runs in four stages over one buffer:
 *
 *		1. Mark and space quadrature correlators.  Two local
 *		   oscillators mix the input; sliding sums over one symbol
 *		   time (via prefix sums, so the whole pass is linear)
 *		   give the energy near each tone.  The difference is the
 *		   soft demodulated signal.
 *
 *		2. A digital PLL recovers the bit clock.  The PLL
 *		   accumulator overflows once per bit; a slicer transition
 *		   pulls the accumulator back by an inertia factor, looser
 *		   while searching and stiffer once frame sync is engaged.
 *
 *		3. Frame sync.  A 64 bit shift register watches for the
 *		   0xAB preamble pattern, then characters are taken ten
 *		   bits at a time: start, seven data, parity, stop.
 *		   Characters failing parity are kept and flagged, never
 *		   discarded.
 *
 *		4. Scoring.  When several bursts of the same message are
 *		   visible in the buffer, a per-position majority vote
 *		   repairs characters and the agreement feeds the
 *		   confidence score along with the parity pass rate.
 *
 *		Scanning overlapping windows must not double-report, so
 *		decoded headers are deduplicated by string within a
 *		configurable time window.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// PLL inertia, after the values the AFSK demodulator family has
	// always used: loose while hunting for sync, stiff once a frame is
	// in progress.
	pllSearchingInertia = 0.50
	pllLockedInertia    = 0.74

	// Sixty-four demodulated bits of preamble, 0xAB sent LSB first.
	preamblePattern = uint64(0xABABABABABABABAB)

	cancelCheckInterval = 1 << 16 // samples between ctx polls in hot loops
)

// DecodedCandidate is one recovered message from a scan.
type DecodedCandidate struct {
	Header     string
	Fields     *HeaderFields // nil when the voted header string did not parse
	ParityOK   []bool        // per character, after voting
	Confidence float64       // 0..1
	EOM        bool
	BelowFloor bool // surfaced for diagnostics only
	Bursts     int  // bursts that contributed to the vote
	Start      time.Time
	End        time.Time
}

// DemodConfig carries the knobs the demodulator needs.
type DemodConfig struct {
	SampleRate      int
	ConfidenceFloor float64       // candidates below this are diagnostics only
	DedupeWindow    time.Duration // same header within this window reports once
}

// Demodulator turns PCM windows into candidates.  One instance per source;
// the dedupe state is not synchronized.
type Demodulator struct {
	cfg     DemodConfig
	logger  *log.Logger
	metrics *Metrics

	seen map[string]time.Time
}

func NewDemodulator(cfg DemodConfig, logger *log.Logger, metrics *Metrics) *Demodulator {
	if logger == nil {
		logger = log.Default()
	}
	return &Demodulator{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		seen:    make(map[string]time.Time),
	}
}

// Scan demodulates one mono window.  windowStart is the capture time of
// samples[0] and anchors candidate timestamps.  Candidates come back in
// non-decreasing Start order.  The only error is context cancellation.
func (d *Demodulator) Scan(ctx context.Context, samples []int16, windowStart time.Time) ([]DecodedCandidate, error) {
	var bursts, scanErr = d.recoverBursts(ctx, samples)
	if scanErr != nil {
		return nil, scanErr
	}
	if len(bursts) == 0 {
		return nil, nil
	}

	var toTime = func(sampleOff int) time.Time {
		return windowStart.Add(time.Duration(sampleOff) * time.Second / time.Duration(d.cfg.SampleRate))
	}

	var candidates []DecodedCandidate
	for _, group := range groupBursts(bursts, d.cfg.SampleRate) {
		var c = voteCandidate(group)
		c.Start = toTime(group[0].start)
		c.End = toTime(group[len(group)-1].end)
		c.BelowFloor = c.Confidence < d.cfg.ConfidenceFloor

		if !c.EOM {
			var fields, parseErr = ParseHeader(c.Header, c.End)
			if parseErr == nil {
				c.Fields = fields
			} else {
				d.logger.Debug("decoded header does not parse", "header", c.Header, "err", parseErr)
			}
		}

		if d.isDuplicate(c) {
			continue
		}

		if c.BelowFloor {
			d.logger.Info("candidate below confidence floor",
				"header", c.Header, "confidence", c.Confidence, "bursts", c.Bursts)
			if d.metrics != nil {
				d.metrics.CandidatesBelowFloor.Inc()
			}
		} else if d.metrics != nil {
			d.metrics.CandidatesReported.Inc()
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.Before(candidates[j].Start) })
	return candidates, nil
}

// isDuplicate reports and records whether this message was already seen
// within the dedupe window.  Keyed by the header string, so overlapping
// scan windows that both contain the same physical burst collapse to one
// report.
func (d *Demodulator) isDuplicate(c DecodedCandidate) bool {
	if d.cfg.DedupeWindow <= 0 {
		return false
	}
	var last, ok = d.seen[c.Header]
	if ok && c.Start.Sub(last) < d.cfg.DedupeWindow {
		return true
	}
	d.seen[c.Header] = c.End

	// Drop stale entries so a long-lived source does not accumulate one
	// map entry per alert forever.
	for k, t := range d.seen {
		if c.End.Sub(t) > 10*d.cfg.DedupeWindow {
			delete(d.seen, k)
		}
	}
	return false
}

/*
 * Stages 1-3: samples to decoded bursts.
 */

type burstDecode struct {
	msg      string
	parityOK []bool
	eom      bool
	start    int // sample offset of the first message character
	end      int // sample offset of the last bit
}

func (d *Demodulator) recoverBursts(ctx context.Context, samples []int16) ([]burstDecode, error) {
	var rate = d.cfg.SampleRate
	var symbolWindow = int(float64(rate)/SameBaud + 0.5)
	if len(samples) < 2*symbolWindow {
		return nil, nil
	}

	// Quadrature correlators via prefix sums.  Index i holds the sum of
	// the first i products, so the windowed sum is a subtraction.
	var n = len(samples)
	var mi, mq, si, sq = make([]float64, n+1), make([]float64, n+1), make([]float64, n+1), make([]float64, n+1)

	var markPhase, spacePhase uint32
	var markDelta = phaseDelta(MarkFreq, rate)
	var spaceDelta = phaseDelta(SpaceFreq, rate)
	for i := 0; i < n; i++ {
		if i%cancelCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var x = float64(samples[i]) / 32768.0
		mi[i+1] = mi[i] + x*cos256(markPhase)
		mq[i+1] = mq[i] + x*sin256(markPhase)
		si[i+1] = si[i] + x*cos256(spacePhase)
		sq[i+1] = sq[i] + x*sin256(spacePhase)
		markPhase += markDelta
		spacePhase += spaceDelta
	}

	var energy = func(ci, cq []float64, at int) float64 {
		var re = ci[at] - ci[at-symbolWindow]
		var im = cq[at] - cq[at-symbolWindow]
		return re*re + im*im
	}

	// Stage 2 + 3: DPLL bit clock feeding the frame sync.
	var fs = frameSync{metrics: d.metrics}
	var pllStep = int32(math.Round(float64(ticksPerCycle) * SameBaud / float64(rate)))
	var pll, prevPLL int32
	var prevBit byte

	for i := symbolWindow; i < n; i++ {
		if i%cancelCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var bit byte
		if energy(mi, mq, i+1) > energy(si, sq, i+1) {
			bit = 1
		}

		prevPLL = pll
		pll += pllStep
		if prevPLL > 0 && pll < 0 {
			// Overflow marks the middle of a bit.
			fs.pushBit(bit, i)
		}

		if bit != prevBit {
			var inertia = pllSearchingInertia
			if fs.engaged() {
				inertia = pllLockedInertia
			}
			pll = int32(float64(pll) * inertia)
		}
		prevBit = bit
	}

	return fs.bursts, nil
}

// cos256/sin256 look up the top byte of a phase accumulator in a shared
// 256 entry table.
var cos256Table [256]float64

func init() {
	for j := 0; j < 256; j++ {
		cos256Table[j] = math.Cos(float64(j) * 2.0 * math.Pi / 256.0)
	}
}

func cos256(phase uint32) float64 {
	return cos256Table[(phase>>24)&0xff]
}

func sin256(phase uint32) float64 {
	return cos256Table[((phase>>24)-64)&0xff]
}

/*
 * Frame sync state machine.
 */

const (
	syncSearching = iota
	syncAligned
)

type frameSync struct {
	metrics *Metrics

	state     int
	acc       uint64 // last 64 demodulated bits, newest at bit 63
	accCount  int
	frame     []byte // bits of the character being assembled
	frameOpen int    // sample offset of the first bit in frame
	g         gatherer
	msgStart  int

	bursts []burstDecode
}

// engaged is true while a message is being gathered, which stiffens the
// bit clock PLL.
func (fs *frameSync) engaged() bool {
	return fs.state == syncAligned
}

func (fs *frameSync) pushBit(bit byte, pos int) {
	if fs.state == syncSearching {
		fs.acc >>= 1
		if bit != 0 {
			fs.acc |= 1 << 63
		}
		fs.accCount++
		if fs.accCount >= 64 && fs.acc == preamblePattern {
			fs.state = syncAligned
			fs.frame = fs.frame[:0]
			fs.g = gatherer{}
			fs.msgStart = -1
		}
		return
	}

	if len(fs.frame) == 0 {
		fs.frameOpen = pos
	}
	fs.frame = append(fs.frame, bit)

	if fs.frame[0] == 1 {
		// Not a start bit; the only legitimate thing here is more
		// preamble.
		if len(fs.frame) < 8 {
			return
		}
		if rawByteAt(fs.frame, 0) == preambleByte {
			fs.frame = fs.frame[:0]
			return
		}
		fs.slip()
		return
	}

	if len(fs.frame) < frameBits {
		return
	}

	var c byte
	for i := 0; i < charBits; i++ {
		c |= fs.frame[1+i] << i
	}
	var parityOK = fs.frame[1+charBits] == EvenParity(c)
	if fs.frame[frameBits-1] != 1 {
		// Damaged stop bit.  Keep the character so voting stays
		// aligned, but it cannot be trusted.
		parityOK = false
		if fs.metrics != nil {
			fs.metrics.FramingErrors.Inc()
		}
	}
	if !parityOK && fs.metrics != nil {
		fs.metrics.ParityErrors.Inc()
	}
	fs.frame = fs.frame[:0]

	if fs.msgStart < 0 {
		fs.msgStart = fs.frameOpen
	}
	fs.g.push(c, parityOK)

	if fs.g.done {
		fs.bursts = append(fs.bursts, burstDecode{
			msg:      fs.g.message(),
			parityOK: fs.g.parityOK,
			eom:      fs.g.eom,
			start:    fs.msgStart,
			end:      pos,
		})
		fs.reset()
	} else if fs.g.failed {
		fs.slip()
	}
}

// slip abandons the current alignment and goes back to hunting for a
// preamble.  The accumulator restarts so a stale pattern cannot re-trigger.
func (fs *frameSync) slip() {
	if fs.metrics != nil {
		fs.metrics.FramingErrors.Inc()
	}
	fs.reset()
}

func (fs *frameSync) reset() {
	fs.state = syncSearching
	fs.acc = 0
	fs.accCount = 0
	fs.frame = fs.frame[:0]
	fs.g = gatherer{}
	fs.msgStart = -1
}

/*
 * Stage 4: majority vote and confidence.
 */

// maxBurstSpacing bounds how far apart two bursts of one transmission can
// be.  The protocol repeats with one second gaps; anything further apart is
// a separate transmission even when the text happens to match in length.
const maxBurstSpacing = 3 * interBurstGap

// groupBursts clusters decodes that are repeats of one transmission.  The
// protocol sends three near-identical copies about a second apart, so a
// burst joins a group only when it is the same kind and length, lands
// within the allowed spacing of the group's newest member, and disagrees
// with the group head only where reception noise can explain it.  Two
// distinct alerts that happen to share a length (same station, different
// event code) must never be merged: voting across them would fabricate a
// header nobody transmitted.
func groupBursts(bursts []burstDecode, rate int) [][]burstDecode {
	var maxGap = int(maxBurstSpacing.Seconds() * float64(rate))
	var groups [][]burstDecode
	for _, b := range bursts {
		var placed = false
		for gi := range groups {
			var head = groups[gi][0]
			var prev = groups[gi][len(groups[gi])-1]
			if head.eom != b.eom || len(head.msg) != len(b.msg) {
				continue
			}
			if b.start-prev.end > maxGap {
				continue
			}
			if !noiseExplains(head, b) {
				continue
			}
			groups[gi] = append(groups[gi], b)
			placed = true
			break
		}
		if !placed {
			groups = append(groups, []burstDecode{b})
		}
	}
	return groups
}

// noiseExplains reports whether two equal-length decodes could be repeats
// of the same transmission: every position where they disagree failed
// parity in at least one of them.  A position where both copies decoded
// cleanly but differently is real content, not noise.
func noiseExplains(a burstDecode, b burstDecode) bool {
	for i := 0; i < len(a.msg); i++ {
		if a.msg[i] != b.msg[i] && a.parityOK[i] && b.parityOK[i] {
			return false
		}
	}
	return true
}

// voteCandidate merges a group into one candidate.  Per position the
// majority character wins; a position's parity flag is good if any member
// voting for the winner passed parity there.  Confidence blends the parity
// pass rate with cross-burst agreement when more than one burst is
// visible.
func voteCandidate(group []burstDecode) DecodedCandidate {
	var length = len(group[0].msg)
	var voted = make([]byte, length)
	var parityOK = make([]bool, length)
	var agreeing = 0

	for i := 0; i < length; i++ {
		var counts = make(map[byte]int)
		for _, b := range group {
			counts[b.msg[i]]++
		}
		var winner byte
		var best = 0
		for ch, n := range counts {
			if n > best || (n == best && ch < winner) {
				winner, best = ch, n
			}
		}
		voted[i] = winner
		if best*2 > len(group) {
			agreeing++
		}
		for _, b := range group {
			if b.msg[i] == winner && b.parityOK[i] {
				parityOK[i] = true
				break
			}
		}
	}

	var parityFrac = 0.0
	for _, ok := range parityOK {
		if ok {
			parityFrac++
		}
	}
	parityFrac /= float64(length)

	var confidence = parityFrac
	if len(group) > 1 {
		confidence = 0.5*parityFrac + 0.5*float64(agreeing)/float64(length)
	}

	return DecodedCandidate{
		Header:     string(voted),
		ParityOK:   parityOK,
		Confidence: confidence,
		EOM:        group[0].eom,
		Bursts:     len(group),
	}
}
