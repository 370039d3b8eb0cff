package samewatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposePlain(t *testing.T) {
	var tx, err = Compose(rwtFields(), ComposeOptions{SampleRate: 48000})
	require.NoError(t, err)

	assert.Equal(t, 48000, tx.SampleRate)
	assert.Equal(t, 1, tx.Channels)
	assert.False(t, tx.HasAttention)
	assert.False(t, tx.HasPayload)
	assert.Contains(t, tx.Header, "ZCZC-WXR-RWT-024029+0030-")

	// 3 x (header burst + 1 s) + 1 s + 3 x (EOM burst + 1 s).
	var headerBurst = float64(16*8+42*10) / SameBaud
	var eomBurst = float64(16*8+4*10) / SameBaud
	var want = 3*(headerBurst+1) + 1 + 3*(eomBurst+1)
	assert.InDelta(t, want, tx.Duration.Seconds(), 0.01)
	assert.InDelta(t, want*48000, float64(len(tx.PCM)), 100)
}

func TestComposeAttention(t *testing.T) {
	var plain, err = Compose(rwtFields(), ComposeOptions{SampleRate: 48000})
	require.NoError(t, err)

	var single, sErr = Compose(rwtFields(), ComposeOptions{
		SampleRate: 48000,
		Attention:  AttentionSingle,
	})
	require.NoError(t, sErr)
	assert.True(t, single.HasAttention)

	// Default hold is the 8 s minimum, plus the trailing gap.
	var extra = single.Duration - plain.Duration
	assert.InDelta(t, 9, extra.Seconds(), 0.01)

	var dual, dErr = Compose(rwtFields(), ComposeOptions{
		SampleRate:        48000,
		Attention:         AttentionDual,
		AttentionDuration: 25 * time.Second,
	})
	require.NoError(t, dErr)
	assert.InDelta(t, 26, (dual.Duration - plain.Duration).Seconds(), 0.01)
}

func TestComposeAttentionHoldBounds(t *testing.T) {
	for _, hold := range []time.Duration{time.Second, 7 * time.Second, 26 * time.Second} {
		var _, err = Compose(rwtFields(), ComposeOptions{
			SampleRate:        48000,
			Attention:         AttentionSingle,
			AttentionDuration: hold,
		})
		assert.Error(t, err, "hold %s", hold)
	}
}

func TestComposePayload(t *testing.T) {
	var payload = make([]int16, 8000) // one second at 8 kHz
	var plain, err = Compose(rwtFields(), ComposeOptions{SampleRate: 48000})
	require.NoError(t, err)

	var tx, pErr = Compose(rwtFields(), ComposeOptions{
		SampleRate:  48000,
		Payload:     payload,
		PayloadRate: 8000,
	})
	require.NoError(t, pErr)
	assert.True(t, tx.HasPayload)

	// The payload is resampled to the output rate, so it still adds one
	// second of audio.
	assert.InDelta(t, 1, (tx.Duration - plain.Duration).Seconds(), 0.01)
}

func TestComposeStereo(t *testing.T) {
	var mono, err = Compose(rwtFields(), ComposeOptions{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)
	var stereo, sErr = Compose(rwtFields(), ComposeOptions{SampleRate: 48000, Channels: 2})
	require.NoError(t, sErr)

	assert.Equal(t, 2*len(mono.PCM), len(stereo.PCM))
	assert.Equal(t, mono.Duration, stereo.Duration)
	for i := 0; i < 100; i++ {
		assert.Equal(t, stereo.PCM[2*i], stereo.PCM[2*i+1])
	}
}

func TestComposeRejects(t *testing.T) {
	var _, rateErr = Compose(rwtFields(), ComposeOptions{})
	assert.Error(t, rateErr)

	var _, chanErr = Compose(rwtFields(), ComposeOptions{SampleRate: 48000, Channels: 5})
	assert.Error(t, chanErr)

	var bad = rwtFields()
	bad.Originator = "ZZZ"
	var _, fieldErr = Compose(bad, ComposeOptions{SampleRate: 48000})
	var ferr *InvalidFieldError
	assert.ErrorAs(t, fieldErr, &ferr)
}
