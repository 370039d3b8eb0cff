package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Minimal RIFF/WAVE reader and writer for PCM audio.
 *
 *		Write: 16 bit little endian PCM only.
 *		Read:  8 or 16 bit PCM, any channel count; unknown
 *		       chunks are skipped.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type wavHeader struct {
	Riff     [4]byte // "RIFF"
	FileSize uint32
	Wave     [4]byte // "WAVE"

	Fmt       [4]byte // "fmt "
	FmtSize   uint32
	Format    uint16 // 1 = PCM
	Channels  uint16
	Rate      uint32
	ByteRate  uint32
	BlockAlig uint16
	BitsPer   uint16

	Data     [4]byte // "data"
	DataSize uint32
}

// WriteWAV writes interleaved 16 bit PCM with a standard 44 byte header.
func WriteWAV(w io.Writer, samples []int16, sampleRate int, channels int) error {
	if channels < 1 {
		return fmt.Errorf("wav: %d channels", channels)
	}

	var dataSize = uint32(len(samples) * 2)
	var hdr = wavHeader{
		FileSize:  36 + dataSize,
		FmtSize:   16,
		Format:    1,
		Channels:  uint16(channels),
		Rate:      uint32(sampleRate),
		ByteRate:  uint32(sampleRate * channels * 2),
		BlockAlig: uint16(channels * 2),
		BitsPer:   16,
		DataSize:  dataSize,
	}
	copy(hdr.Riff[:], "RIFF")
	copy(hdr.Wave[:], "WAVE")
	copy(hdr.Fmt[:], "fmt ")
	copy(hdr.Data[:], "data")

	var hdrErr = binary.Write(w, binary.LittleEndian, hdr)
	if hdrErr != nil {
		return hdrErr
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// wavReader parses the header up front and then streams samples.
type wavReader struct {
	r          io.Reader
	sampleRate int
	channels   int
	bitsPer    int
	remaining  uint32
}

func newWAVReader(r io.Reader) (*wavReader, error) {
	var riff [12]byte
	var _, riffErr = io.ReadFull(r, riff[:])
	if riffErr != nil {
		return nil, riffErr
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errors.New("wav: not a RIFF/WAVE file")
	}

	var w = &wavReader{r: r}
	for {
		var chunk [8]byte
		var _, chunkErr = io.ReadFull(r, chunk[:])
		if chunkErr != nil {
			return nil, fmt.Errorf("wav: truncated before data chunk: %w", chunkErr)
		}
		var size = binary.LittleEndian.Uint32(chunk[4:])

		switch string(chunk[0:4]) {
		case "fmt ":
			var fmtBuf = make([]byte, size)
			var _, fmtErr = io.ReadFull(r, fmtBuf)
			if fmtErr != nil {
				return nil, fmtErr
			}
			if binary.LittleEndian.Uint16(fmtBuf[0:]) != 1 {
				return nil, errors.New("wav: only uncompressed PCM is supported")
			}
			w.channels = int(binary.LittleEndian.Uint16(fmtBuf[2:]))
			w.sampleRate = int(binary.LittleEndian.Uint32(fmtBuf[4:]))
			w.bitsPer = int(binary.LittleEndian.Uint16(fmtBuf[14:]))
			if w.bitsPer != 8 && w.bitsPer != 16 {
				return nil, fmt.Errorf("wav: %d bits per sample unsupported", w.bitsPer)
			}
		case "data":
			if w.channels == 0 {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			w.remaining = size
			return w, nil
		default:
			var _, skipErr = io.CopyN(io.Discard, r, int64(size))
			if skipErr != nil {
				return nil, skipErr
			}
		}
	}
}

// readSamples fills dst with interleaved samples, converting 8 bit unsigned
// to 16 bit signed.  Returns the number of samples read; io.EOF once the
// data chunk is exhausted.
func (w *wavReader) readSamples(dst []int16) (int, error) {
	var bytesPer = w.bitsPer / 8
	if w.remaining == 0 {
		return 0, io.EOF
	}

	var want = len(dst) * bytesPer
	if uint32(want) > w.remaining {
		want = int(w.remaining)
	}
	var buf = make([]byte, want)
	var n, readErr = io.ReadFull(w.r, buf)
	w.remaining -= uint32(n)
	if n == 0 {
		if readErr == nil {
			readErr = io.EOF
		}
		return 0, readErr
	}

	var count = n / bytesPer
	for i := 0; i < count; i++ {
		if w.bitsPer == 8 {
			dst[i] = (int16(buf[i]) - 128) << 8
		} else {
			dst[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	}
	return count, nil
}

// ReadWAV slurps an entire file.  Used by the command line tools and tests;
// the live path streams through wavReader instead.
func ReadWAV(r io.Reader) (samples []int16, sampleRate int, channels int, err error) {
	var w, openErr = newWAVReader(r)
	if openErr != nil {
		return nil, 0, 0, openErr
	}
	var buf = make([]int16, 16384)
	for {
		var n, readErr = w.readSamples(buf)
		samples = append(samples, buf[:n]...)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return samples, w.sampleRate, w.channels, nil
			}
			return nil, 0, 0, readErr
		}
	}
}
