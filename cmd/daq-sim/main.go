// daq-sim wires a mock stage and mock camera into the core and runs a
// short demonstration plan end-to-end, exercising registry, plan
// validation, engine dispatch, and the document stream without any
// real hardware attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/easternanemone/daq-core/backpressure"
	"github.com/easternanemone/daq-core/capability"
	"github.com/easternanemone/daq-core/config"
	"github.com/easternanemone/daq-core/document"
	"github.com/easternanemone/daq-core/engine"
	"github.com/easternanemone/daq-core/internal/logging"
	"github.com/easternanemone/daq-core/internal/mockdrivers"
	"github.com/easternanemone/daq-core/metrics"
	"github.com/easternanemone/daq-core/plan"
	"github.com/easternanemone/daq-core/registry"
)

func main() {
	var verbose = flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := config.New()
	cfg.Registry.Devices = []config.DeviceConfig{
		{ID: "stage_x", Kind: "mock_stage"},
		{ID: "camera1", Kind: "mock_camera"},
	}

	m := metrics.NewMetrics()
	observer := metrics.NewMetricsObserver(m)

	reg := registry.New()
	docs := document.New(observer)
	eng := engine.New(reg, docs, cfg.Engine, observer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
		os.Exit(0)
	}()

	if err := registry.Bootstrap(ctx, reg, cfg.Registry, mockDriverFactory); err != nil {
		logger.Error("device bootstrap failed", "error", err)
		os.Exit(1)
	}

	sub := docs.Subscribe("console", 128, backpressure.Block)
	go printDocuments(sub)

	p := plan.New("daq-sim demo", "move a stage, set camera exposure, trigger an acquisition", []plan.Step{
		plan.BeginRun(map[string]string{"experiment": "daq-sim-demo"}),
		plan.Move("stage_x", 12.5, capability.MoveAbsolute, true),
		plan.Set("camera1", "gain", 2.0),
		plan.Trigger("camera1"),
		plan.EndRun(),
	})

	result, err := eng.RunPlan(ctx, p, map[string]string{"experiment": "daq-sim-demo"})
	if err != nil {
		logger.Error("plan failed validation", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %s finished: status=%s events=%d\n", result.RunID, result.Status, result.EventCount)
	time.Sleep(50 * time.Millisecond) // let the console subscriber drain

	snap := m.Snapshot()
	fmt.Printf("steps executed=%d retried=%d skipped=%d aborted=%d\n",
		snap.StepsExecuted, snap.StepsRetried, snap.StepsSkipped, snap.StepsAborted)
}

// mockDriverFactory turns a device-table "kind" string into a live
// mock driver. A real deployment would dispatch to hardware adapters
// here instead; daq-sim only ever talks to mock devices.
func mockDriverFactory(kind string, params map[string]string) (capability.Driver, error) {
	switch kind {
	case "mock_stage":
		stage := mockdrivers.NewStage()
		stage.SettleDelay = 20 * time.Millisecond
		return stage, nil
	case "mock_camera":
		return mockdrivers.NewCamera(), nil
	case "mock_sensor":
		return mockdrivers.NewSensor(0), nil
	default:
		return nil, fmt.Errorf("daq-sim: unknown mock device kind %q", kind)
	}
}

func printDocuments(sub *document.Subscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		d, ok := sub.Pop(ctx)
		if !ok {
			return
		}
		fmt.Printf("[%d] %s device=%s status=%s\n", d.Seq, d.Kind, d.DeviceID, d.Status)
		if d.Kind == document.KindStop {
			return
		}
	}
}
