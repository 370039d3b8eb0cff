package samewatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	var samples = make([]int16, 4800)
	for i := range samples {
		samples[i] = int16(i*7 - 12000)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, samples, 48000, 1))

	var got, rate, channels, err = ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 48000, rate)
	assert.Equal(t, 1, channels)
	assert.Equal(t, samples, got)
}

func TestWAVRoundTripStereo(t *testing.T) {
	var samples = []int16{100, 100, -200, -200, 300, 300}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, samples, 44100, 2))

	var got, rate, channels, err = ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 44100, rate)
	assert.Equal(t, 2, channels)
	assert.Equal(t, samples, got)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	var _, _, _, err = ReadWAV(bytes.NewReader([]byte("not a wav file at all")))
	assert.Error(t, err)

	var _, _, _, shortErr = ReadWAV(bytes.NewReader([]byte("RIFF")))
	assert.Error(t, shortErr)
}

func TestWriteWAVRejectsBadChannels(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteWAV(&buf, nil, 48000, 0))
}
