package samewatch

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renderBursts synthesizes a capture: leading silence, then each burst
// separated by one second, then trailing silence.
func renderBursts(rate int, bursts ...[]byte) []int16 {
	var g = NewToneGen(rate, 80)
	var pcm = g.Silence(nil, 500*time.Millisecond)
	for _, b := range bursts {
		pcm = g.RenderBits(pcm, b)
		pcm = g.Silence(pcm, time.Second)
	}
	return pcm
}

func testDemod(t *testing.T, cfg DemodConfig) *Demodulator {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	return NewDemodulator(cfg, NewLogger("error"), nil)
}

func TestScanCleanTransmission(t *testing.T) {
	var _, headerBits, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	var pcm = renderBursts(48000, headerBits, headerBits, headerBits)
	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.95})

	var candidates, scanErr = d.Scan(context.Background(), pcm, testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 1)

	var c = candidates[0]
	assert.Equal(t, "ZCZC-WXR-RWT-024029+0030-2371200-KABC8FMX-", c.Header)
	require.NotNil(t, c.Fields)
	assert.Equal(t, "WXR", c.Fields.Originator)
	assert.Equal(t, "RWT", c.Fields.Event)
	assert.Equal(t, []string{"024029"}, c.Fields.Locations)
	assert.Equal(t, 3, c.Bursts)
	assert.False(t, c.EOM)
	assert.False(t, c.BelowFloor)
	assert.GreaterOrEqual(t, c.Confidence, 0.95)
	for i, ok := range c.ParityOK {
		assert.True(t, ok, "character %d", i)
	}
	assert.True(t, c.End.After(c.Start))
}

func TestScanFullAlertSequence(t *testing.T) {
	// The complete composed transmission: three header bursts, attention
	// tone, silence, three EOM bursts.
	var tx, err = Compose(rwtFields(), ComposeOptions{
		SampleRate: 48000,
		Attention:  AttentionDual,
	})
	require.NoError(t, err)

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, scanErr = d.Scan(context.Background(), tx.PCM, testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 2)

	assert.False(t, candidates[0].EOM)
	assert.Equal(t, tx.Header, candidates[0].Header)
	assert.True(t, candidates[1].EOM)
	assert.Equal(t, "NNNN", candidates[1].Header)
	assert.True(t, candidates[0].Start.Before(candidates[1].Start))
}

func TestScanEOMOnly(t *testing.T) {
	var pcm = renderBursts(48000, EncodeEOM(), EncodeEOM(), EncodeEOM())
	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})

	var candidates, err = d.Scan(context.Background(), pcm, testRef)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].EOM)
	assert.Nil(t, candidates[0].Fields)
	assert.Equal(t, "NNNN", candidates[0].Header)
}

func TestScanMajorityOutvotesCorruptBurst(t *testing.T) {
	var _, clean, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	// Second copy has a data bit of the originator flipped; the other two
	// outvote it and the winner's parity comes from the clean copies.
	var corrupt = make([]byte, len(clean))
	copy(corrupt, clean)
	corrupt[preambleCount*8+6*frameBits+1] ^= 1

	var pcm = renderBursts(48000, clean, corrupt, clean)
	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.9})

	var candidates, scanErr = d.Scan(context.Background(), pcm, testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 1)

	var c = candidates[0]
	assert.Equal(t, "ZCZC-WXR-RWT-024029+0030-2371200-KABC8FMX-", c.Header)
	require.NotNil(t, c.Fields)
	assert.Equal(t, 3, c.Bursts)
	assert.False(t, c.BelowFloor)
	for _, ok := range c.ParityOK {
		assert.True(t, ok)
	}
}

func TestScanSingleBitNoiseStaysAboveFloor(t *testing.T) {
	var s, bits, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	// One damaged parity bit in a lone burst costs one character of the
	// parity fraction and nothing else.
	bits[preambleCount*8+20*frameBits+1+charBits] ^= 1

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, scanErr = d.Scan(context.Background(), renderBursts(48000, bits), testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 1)

	assert.Equal(t, s, candidates[0].Header)
	assert.False(t, candidates[0].BelowFloor)
	assert.InDelta(t, 41.0/42.0, candidates[0].Confidence, 0.001)
}

func TestScanMajorityRepairsHeavilyCorruptBurst(t *testing.T) {
	var _, clean, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	// The middle copy has five characters mangled, far past what parity
	// alone could repair.  The two clean copies outvote every position.
	var corrupt = make([]byte, len(clean))
	copy(corrupt, clean)
	for _, k := range []int{5, 7, 9, 13, 15} {
		corrupt[preambleCount*8+k*frameBits+2] ^= 1
	}

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.9})
	var candidates, scanErr = d.Scan(context.Background(), renderBursts(48000, clean, corrupt, clean), testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 1)

	var c = candidates[0]
	assert.Equal(t, "ZCZC-WXR-RWT-024029+0030-2371200-KABC8FMX-", c.Header)
	require.NotNil(t, c.Fields)
	assert.Equal(t, 3, c.Bursts)
	assert.False(t, c.BelowFloor)
}

func TestScanSingleBurstParityDamage(t *testing.T) {
	var s, bits, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	// Flip the parity bits (not the data) of three characters.  The
	// characters themselves decode fine, so the header parses, but the
	// confidence drops below a strict floor.
	for _, k := range []int{33, 34, 35} {
		bits[preambleCount*8+k*frameBits+1+charBits] ^= 1
	}

	var metrics = NewMetricsForTesting()
	var d = NewDemodulator(DemodConfig{
		SampleRate:      48000,
		ConfidenceFloor: 0.95,
	}, NewLogger("error"), metrics)

	var candidates, scanErr = d.Scan(context.Background(), renderBursts(48000, bits), testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 1)

	var c = candidates[0]
	assert.Equal(t, s, c.Header)
	assert.Equal(t, 1, c.Bursts)
	assert.True(t, c.BelowFloor)
	assert.InDelta(t, 39.0/42.0, c.Confidence, 0.001)
	assert.False(t, c.ParityOK[33])

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ParityErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CandidatesBelowFloor))
}

func TestScanKeepsDistinctAlertsApart(t *testing.T) {
	// Same station, same length, different event code, one burst of each
	// in the window.  Voting across them would invent a header nobody
	// transmitted; they must come back as two separate candidates.
	var rwt = rwtFields()
	var tor = rwtFields()
	tor.Event = "TOR"

	var rwtHeader, rwtBits, rwtErr = EncodeHeader(rwt, testRef)
	require.NoError(t, rwtErr)
	var torHeader, torBits, torErr = EncodeHeader(tor, testRef)
	require.NoError(t, torErr)
	require.Equal(t, len(rwtHeader), len(torHeader))

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, scanErr = d.Scan(context.Background(), renderBursts(48000, rwtBits, torBits), testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 2)

	assert.Equal(t, rwtHeader, candidates[0].Header)
	assert.Equal(t, torHeader, candidates[1].Header)
	for _, c := range candidates {
		assert.Equal(t, 1, c.Bursts)
		require.NotNil(t, c.Fields)
	}
	assert.Equal(t, "RWT", candidates[0].Fields.Event)
	assert.Equal(t, "TOR", candidates[1].Fields.Event)
}

func TestScanDoesNotGroupDistantRepeats(t *testing.T) {
	// Identical text but far outside the repeat spacing is a separate
	// transmission, not a fourth copy of the first one.
	var _, bits, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)

	var g = NewToneGen(48000, 80)
	var pcm = g.Silence(nil, 500*time.Millisecond)
	pcm = g.RenderBits(pcm, bits)
	pcm = g.Silence(pcm, 8*time.Second)
	pcm = g.RenderBits(pcm, bits)
	pcm = g.Silence(pcm, time.Second)

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, scanErr = d.Scan(context.Background(), pcm, testRef)
	require.NoError(t, scanErr)
	require.Len(t, candidates, 2)
	assert.Equal(t, 1, candidates[0].Bursts)
	assert.Equal(t, 1, candidates[1].Bursts)
}

func TestScanDeduplicates(t *testing.T) {
	var _, bits, err = EncodeHeader(rwtFields(), testRef)
	require.NoError(t, err)
	var pcm = renderBursts(48000, bits, bits, bits)

	var d = testDemod(t, DemodConfig{
		ConfidenceFloor: 0.8,
		DedupeWindow:    10 * time.Second,
	})

	// Two overlapping windows both containing the same transmission.
	var first, firstErr = d.Scan(context.Background(), pcm, testRef)
	require.NoError(t, firstErr)
	require.Len(t, first, 1)

	var second, secondErr = d.Scan(context.Background(), pcm, testRef.Add(2*time.Second))
	require.NoError(t, secondErr)
	assert.Empty(t, second)

	// Well past the window the same header is a new alert.
	var third, thirdErr = d.Scan(context.Background(), pcm, testRef.Add(time.Minute))
	require.NoError(t, thirdErr)
	assert.Len(t, third, 1)
}

func TestScanSilence(t *testing.T) {
	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, err = d.Scan(context.Background(), make([]int16, 48000), testRef)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestScanTooShortWindow(t *testing.T) {
	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var candidates, err = d.Scan(context.Background(), make([]int16, 10), testRef)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestScanCancellation(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var d = testDemod(t, DemodConfig{ConfidenceFloor: 0.8})
	var _, err = d.Scan(ctx, make([]int16, 48000), testRef)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanSampleRates(t *testing.T) {
	for _, rate := range []int{8000, 22050, 44100} {
		var _, bits, err = EncodeHeader(rwtFields(), testRef)
		require.NoError(t, err)

		var d = testDemod(t, DemodConfig{SampleRate: rate, ConfidenceFloor: 0.9})
		var candidates, scanErr = d.Scan(context.Background(), renderBursts(rate, bits, bits, bits), testRef)
		require.NoError(t, scanErr)
		require.Len(t, candidates, 1, "rate %d", rate)
		assert.Equal(t, "ZCZC-WXR-RWT-024029+0030-2371200-KABC8FMX-", candidates[0].Header, "rate %d", rate)
	}
}
