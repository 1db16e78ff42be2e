package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	perftrampoline "github.com/sepastian/perftrampoline"
	"github.com/sepastian/perftrampoline/internal/arch"
	"github.com/sepastian/perftrampoline/internal/logging"
	"github.com/sepastian/perftrampoline/internal/sink"
)

func main() {
	var (
		sinkName = flag.String("sink", "none", "Side-channel sink: none, perfmap, or jitdump")
		verbose  = flag.Bool("v", false, "Verbose output")
		funcs    = flag.Int("funcs", 8, "Number of mock code objects to dispatch")
		calls    = flag.Int("calls", 3, "Number of times to dispatch each code object")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	plug, err := resolveSink(*sinkName, os.Getpid())
	if err != nil {
		log.Fatalf("invalid sink %q: %v", *sinkName, err)
	}

	cfg := perftrampoline.DefaultConfig()
	cfg.Sink = plug
	cfg.Logger = logger

	host := perftrampoline.NewMockHost()
	sub := perftrampoline.NewSubsystem(host, cfg)

	if err := sub.Init(true); err != nil {
		log.Fatalf("Init failed: %v", err)
	}
	defer func() {
		if err := sub.Fini(); err != nil {
			logger.Error("Fini failed", "error", err)
		}
		if err := sub.FreeArenas(); err != nil {
			logger.Error("FreeArenas failed", "error", err)
		}
	}()

	logger.Info("subsystem initialized", "sink", *sinkName, "pid", os.Getpid())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	codes := make([]*perftrampoline.MockCode, *funcs)
	for i := range codes {
		codes[i] = perftrampoline.NewMockCode(
			fmt.Sprintf("module.func_%d", i),
			fmt.Sprintf("module_%d.py", i),
		)
	}

	for round := 0; round < *calls; round++ {
		for _, co := range codes {
			frame := perftrampoline.NewMockFrame(co)
			if _, err := sub.Evaluate(nil, frame, 0); err != nil {
				logger.Warn("evaluate failed", "qualname", co.Qualname(), "error", err)
			}
		}
		select {
		case <-stop:
			logger.Info("interrupted, shutting down")
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := sub.Metrics().Snapshot()
	fmt.Printf("trampolines compiled: %d\n", snap.TrampolinesCompiled)
	fmt.Printf("trampolines reused:   %d\n", snap.TrampolinesReused)
	fmt.Printf("sink writes:          %d (errors: %d)\n", snap.SinkWrites, snap.SinkWriteErrors)
	fmt.Printf("arenas created:       %d\n", snap.ArenasCreated)
}

func resolveSink(name string, pid int) (sink.Plug, error) {
	switch name {
	case "none":
		return sink.NonePlug(), nil
	case "perfmap":
		return sink.PerfmapPlug(pid), nil
	case "jitdump":
		a, err := arch.Current()
		if err != nil {
			return sink.Plug{}, err
		}
		return sink.JitdumpPlug(pid, a), nil
	default:
		return sink.Plug{}, fmt.Errorf("unknown sink %q", name)
	}
}
