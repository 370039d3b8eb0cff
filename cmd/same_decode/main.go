// same_decode scans WAV files for encoded alert headers and prints what it
// finds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	samewatch "samewatch/src"
)

func main() {
	var floor = flag.Float64("floor", 0.80, "confidence floor; lower results are marked")
	var asJSON = flag.Bool("json", false, "print candidates as JSON lines")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: same_decode [flags] file.wav ...")
		os.Exit(2)
	}

	var logger = samewatch.NewLogger("warn")
	var failed = false
	for _, path := range flag.Args() {
		var f, openErr = os.Open(path)
		if openErr != nil {
			fmt.Fprintln(os.Stderr, openErr)
			failed = true
			continue
		}
		var samples, rate, channels, readErr = samewatch.ReadWAV(f)
		f.Close()
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, readErr)
			failed = true
			continue
		}

		var demod = samewatch.NewDemodulator(samewatch.DemodConfig{
			SampleRate:      rate,
			ConfidenceFloor: *floor,
		}, logger, nil)

		var candidates, scanErr = demod.Scan(context.Background(),
			samewatch.Downmix(samples, channels), time.Time{})
		if scanErr != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, scanErr)
			failed = true
			continue
		}

		for _, c := range candidates {
			if *asJSON {
				var line, _ = json.Marshal(struct {
					File string `json:"file"`
					samewatch.DecodedCandidate
				}{path, c})
				fmt.Println(string(line))
				continue
			}

			var mark = ""
			if c.BelowFloor {
				mark = "  (below floor)"
			}
			var offset = c.Start.Sub(time.Time{})
			fmt.Printf("%s @%s  conf=%.2f bursts=%d  %s%s\n",
				path, offset.Round(10*time.Millisecond), c.Confidence, c.Bursts, c.Header, mark)
		}
		if len(candidates) == 0 {
			fmt.Fprintf(os.Stderr, "%s: no messages found\n", path)
		}
	}
	if failed {
		os.Exit(1)
	}
}
