// gen_same composes the audio for one alert and writes it as a WAV file.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	samewatch "samewatch/src"
)

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	var originator = flag.String("originator", "WXR", "originator code (PEP, CIV, WXR, EAS)")
	var event = flag.String("event", "RWT", "three character event code")
	var locations = flag.StringSlice("location", nil, "affected location code, six digits (repeatable)")
	var purge = flag.Duration("purge", 30*time.Minute, "how long the alert remains valid")
	var station = flag.String("station", "", "station identifier, 1 to 8 characters")

	var rate = flag.Int("rate", 48000, "output sample rate")
	var channels = flag.Int("channels", 1, "output channels (1 or 2)")
	var amplitude = flag.Int("amplitude", 80, "tone amplitude, percent of full scale")

	var attention = flag.String("attention", "none", "attention tone: none, single or dual")
	var attentionHold = flag.Duration("attention-hold", 8*time.Second, "attention tone duration, 8s to 25s")
	var payloadPath = flag.String("payload", "", "WAV file with the voice payload")

	var output = flag.StringP("output", "o", "", "output WAV path")
	var archiveDir = flag.String("archive-dir", "", "archive directory; files named by -archive-pattern")
	var archivePattern = flag.String("archive-pattern", "%Y%m%d-%H%M%S-same.wav", "strftime pattern for archived files")
	flag.Parse()

	if *output == "" && *archiveDir == "" {
		die("one of -o or -archive-dir is required")
	}

	var fields = &samewatch.HeaderFields{
		Originator: *originator,
		Event:      *event,
		Locations:  *locations,
		Purge:      *purge,
		Station:    *station,
	}

	var opts = samewatch.ComposeOptions{
		SampleRate: *rate,
		Channels:   *channels,
		Amplitude:  *amplitude,
	}

	switch *attention {
	case "none":
	case "single":
		opts.Attention = samewatch.AttentionSingle
		opts.AttentionDuration = *attentionHold
	case "dual":
		opts.Attention = samewatch.AttentionDual
		opts.AttentionDuration = *attentionHold
	default:
		die("unknown attention mode %q", *attention)
	}

	if *payloadPath != "" {
		var f, openErr = os.Open(*payloadPath)
		if openErr != nil {
			die("payload: %v", openErr)
		}
		var samples, payloadRate, payloadChans, readErr = samewatch.ReadWAV(f)
		f.Close()
		if readErr != nil {
			die("payload %s: %v", *payloadPath, readErr)
		}
		opts.Payload = samewatch.Downmix(samples, payloadChans)
		opts.PayloadRate = payloadRate
	}

	var tx, composeErr = samewatch.Compose(fields, opts)
	if composeErr != nil {
		die("%v", composeErr)
	}

	if *output != "" {
		var f, createErr = os.Create(*output)
		if createErr != nil {
			die("%v", createErr)
		}
		var writeErr = samewatch.WriteWAV(f, tx.PCM, tx.SampleRate, tx.Channels)
		var closeErr = f.Close()
		if writeErr != nil {
			die("%s: %v", *output, writeErr)
		}
		if closeErr != nil {
			die("%s: %v", *output, closeErr)
		}
		fmt.Printf("%s  %s  %s\n", *output, tx.Header, tx.Duration.Round(time.Millisecond))
		return
	}

	var rec, recErr = samewatch.NewRecorder(*archiveDir, *archivePattern)
	if recErr != nil {
		die("%v", recErr)
	}
	var path, writeErr = rec.Record(tx, time.Now())
	if writeErr != nil {
		die("%v", writeErr)
	}
	fmt.Printf("%s  %s  %s\n", path, tx.Header, tx.Duration.Round(time.Millisecond))
}
