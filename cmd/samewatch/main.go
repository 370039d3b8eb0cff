// samewatch monitors audio sources for encoded alert headers and reports
// every decoded message.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	samewatch "samewatch/src"
)

func main() {
	var configPath = flag.StringP("config", "c", "samewatch.yaml", "configuration file")
	var showVersion = flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("samewatch", samewatch.VersionString())
		return
	}

	var cfg, cfgErr = samewatch.LoadConfig(*configPath)
	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, cfgErr)
		os.Exit(1)
	}

	var logger = samewatch.NewLogger(cfg.LogLevel)
	var metrics = samewatch.NewMetrics()

	if cfg.MetricsAddr != "" {
		var mux = http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			var serveErr = http.ListenAndServe(cfg.MetricsAddr, mux)
			if serveErr != nil {
				logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "err", serveErr)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	var sources []samewatch.Source
	for _, sc := range cfg.Sources {
		switch sc.Type {
		case "portaudio":
			sources = append(sources, &samewatch.PortAudioSource{SourceName: sc.Name, Rate: sc.Rate})
		case "wav":
			sources = append(sources, &samewatch.WAVFileSource{SourceName: sc.Name, Path: sc.Path, Throttle: true})
		case "pcm":
			var f, openErr = os.Open(sc.Path)
			if openErr != nil {
				logger.Error("cannot open pcm source", "source", sc.Name, "err", openErr)
				os.Exit(1)
			}
			defer f.Close()
			sources = append(sources, &samewatch.PCMStreamSource{
				SourceName: sc.Name, Reader: f, Rate: sc.Rate, NumChans: 1,
			})
		}
	}

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher *samewatch.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = samewatch.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		logger.Info("publishing alerts", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var handler = func(source string, c samewatch.DecodedCandidate) {
		if c.BelowFloor {
			return
		}
		logger.Info("alert decoded",
			"source", source,
			"header", c.Header,
			"confidence", fmt.Sprintf("%.2f", c.Confidence),
			"bursts", c.Bursts,
			"eom", c.EOM)
		if publisher != nil {
			var pubErr = publisher.Publish(ctx, source, c)
			if pubErr != nil {
				logger.Error("publish failed", "header", c.Header, "err", pubErr)
			}
		}
	}

	var sched = samewatch.NewScheduler(samewatch.SchedulerConfig{
		Interval:        cfg.Interval(),
		Budget:          cfg.Budget(),
		Buffer:          cfg.Buffer(),
		ConfidenceFloor: cfg.Floor,
		DedupeWindow:    cfg.Dedupe(),
	}, sources, handler, logger, metrics, nil)

	logger.Info("starting", "version", samewatch.VersionString(), "sources", len(sources))
	var runErr = sched.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped", "err", runErr)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
