package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Audio capture sources.
 *
 * Description:	The scheduler is agnostic to where samples come from; it
 *		sees a small capability surface (Open, ReadBlock, Close)
 *		and concrete backends are selected by configuration:
 *
 *		  portaudio - live capture from the default input device
 *		  wav       - replay of a recorded file, paced to real time
 *		  pcm       - raw little endian 16 bit samples from a
 *		              stream (stdin, fifo, socket pipe)
 *
 *		ReadBlock must block while waiting for samples.  Spinning
 *		on a non-blocking hardware read starves everything else
 *		on the core; every backend here either blocks in the read
 *		itself or sleeps between fixed-size chunks.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrSourceUnavailable wraps capture failures.  The scheduler reacts by
// pausing the source and retrying with backoff; it never terminates the
// other sources.
var ErrSourceUnavailable = errors.New("audio source unavailable")

// Source is one stream of PCM sample blocks.
type Source interface {
	Name() string
	SampleRate() int
	Channels() int

	Open() error
	// ReadBlock fills buf with interleaved samples and returns how many
	// it wrote.  It blocks until the block is complete, the source
	// fails, or ctx is done.  io.EOF means the source has genuinely
	// ended (a replayed file ran out) rather than failed.
	ReadBlock(ctx context.Context, buf []int16) (int, error)
	Close() error
}

/*
 * WAV file replay.
 */

// WAVFileSource replays a recorded capture.  With Throttle set it delivers
// blocks at real-time pace, which is what the daemon wants; the command
// line decoder reads files directly and does not come through here.
type WAVFileSource struct {
	SourceName string
	Path       string
	Throttle   bool

	f  *os.File
	rd *wavReader
}

func (s *WAVFileSource) Name() string { return s.SourceName }

func (s *WAVFileSource) SampleRate() int {
	if s.rd == nil {
		return 0
	}
	return s.rd.sampleRate
}

func (s *WAVFileSource) Channels() int {
	if s.rd == nil {
		return 0
	}
	return s.rd.channels
}

func (s *WAVFileSource) Open() error {
	var f, openErr = os.Open(s.Path)
	if openErr != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, openErr)
	}
	var rd, hdrErr = newWAVReader(f)
	if hdrErr != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, hdrErr)
	}
	s.f = f
	s.rd = rd
	return nil
}

func (s *WAVFileSource) ReadBlock(ctx context.Context, buf []int16) (int, error) {
	if s.rd == nil {
		return 0, ErrSourceUnavailable
	}
	var n, readErr = s.rd.readSamples(buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return n, fmt.Errorf("%w: %v", ErrSourceUnavailable, readErr)
	}

	if s.Throttle && n > 0 {
		var frames = n / s.rd.channels
		var wait = time.Duration(frames) * time.Second / time.Duration(s.rd.sampleRate)
		var t = time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, readErr
}

func (s *WAVFileSource) Close() error {
	s.rd = nil
	if s.f != nil {
		var err = s.f.Close()
		s.f = nil
		return err
	}
	return nil
}

/*
 * Raw PCM stream.
 */

const (
	pcmChunkBytes   = 4096
	pcmPollInterval = 200 * time.Millisecond
)

// readDeadliner is satisfied by *os.File and net.Conn.  When the stream
// supports deadlines, ReadBlock polls in short reads instead of sitting in
// one uninterruptible read, so cancellation is honored on a quiet fifo.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// PCMStreamSource reads raw little endian 16 bit interleaved samples from a
// byte stream.  The stream itself provides the blocking.
type PCMStreamSource struct {
	SourceName string
	Reader     io.Reader
	Rate       int
	NumChans   int
}

func (s *PCMStreamSource) Name() string    { return s.SourceName }
func (s *PCMStreamSource) SampleRate() int { return s.Rate }
func (s *PCMStreamSource) Channels() int   { return s.NumChans }

func (s *PCMStreamSource) Open() error {
	if s.Reader == nil {
		return fmt.Errorf("%w: no stream", ErrSourceUnavailable)
	}
	return nil
}

func (s *PCMStreamSource) ReadBlock(ctx context.Context, buf []int16) (int, error) {
	var raw = make([]byte, len(buf)*2)
	var dl, pollable = s.Reader.(readDeadliner)

	var filled = 0
	var finish = func(err error) (int, error) {
		var samples = filled / 2
		for i := 0; i < samples; i++ {
			buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return samples, err
	}

	for filled < len(raw) {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}

		var chunk = raw[filled:]
		if len(chunk) > pcmChunkBytes {
			chunk = chunk[:pcmChunkBytes]
		}
		if pollable {
			dl.SetReadDeadline(time.Now().Add(pcmPollInterval))
		}
		var n, readErr = s.Reader.Read(chunk)
		filled += n
		if readErr != nil {
			if pollable && errors.Is(readErr, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return finish(io.EOF)
			}
			return finish(fmt.Errorf("%w: %v", ErrSourceUnavailable, readErr))
		}
	}
	return finish(nil)
}

func (s *PCMStreamSource) Close() error { return nil }

/*
 * PortAudio live capture.
 */

// PortAudioSource captures from the default input device.  The stream is
// opened with a tenth of a second per chunk, so even though PortAudio's
// Read cannot be interrupted, cancellation is honored within one chunk.
type PortAudioSource struct {
	SourceName string
	Rate       int

	stream   *portaudio.Stream
	chunk    []int16
	leftover []int16
}

func (s *PortAudioSource) Name() string    { return s.SourceName }
func (s *PortAudioSource) SampleRate() int { return s.Rate }
func (s *PortAudioSource) Channels() int   { return 1 }

func (s *PortAudioSource) Open() error {
	var initErr = portaudio.Initialize()
	if initErr != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, initErr)
	}

	s.chunk = make([]int16, s.Rate/10)
	var stream, openErr = portaudio.OpenDefaultStream(1, 0, float64(s.Rate), len(s.chunk), s.chunk)
	if openErr != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, openErr)
	}
	var startErr = stream.Start()
	if startErr != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, startErr)
	}
	s.stream = stream
	return nil
}

func (s *PortAudioSource) ReadBlock(ctx context.Context, buf []int16) (int, error) {
	if s.stream == nil {
		return 0, ErrSourceUnavailable
	}

	var filled = 0
	for filled < len(buf) {
		if len(s.leftover) == 0 {
			if ctx.Err() != nil {
				return filled, ctx.Err()
			}
			var readErr = s.stream.Read()
			if readErr != nil {
				return filled, fmt.Errorf("%w: %v", ErrSourceUnavailable, readErr)
			}
			s.leftover = s.chunk
		}
		var n = copy(buf[filled:], s.leftover)
		filled += n
		s.leftover = s.leftover[n:]
	}
	return filled, nil
}

func (s *PortAudioSource) Close() error {
	if s.stream == nil {
		return nil
	}
	s.stream.Stop()
	var err = s.stream.Close()
	s.stream = nil
	portaudio.Terminate()
	return err
}
