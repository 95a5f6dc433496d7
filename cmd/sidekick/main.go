// Command sidekick runs one assistant turn against a simulated device.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sidekicklabs/sidekick/pkg/audit"
	"github.com/sidekicklabs/sidekick/pkg/bus"
	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/capability/device"
	"github.com/sidekicklabs/sidekick/pkg/config"
	"github.com/sidekicklabs/sidekick/pkg/intent"
	"github.com/sidekicklabs/sidekick/pkg/logging"
	"github.com/sidekicklabs/sidekick/pkg/observability"
	"github.com/sidekicklabs/sidekick/pkg/orchestrator"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/safety"
	"github.com/sidekicklabs/sidekick/pkg/telemetry"
)

func main() {
	var (
		request    = flag.String("request", "", "natural-language request to run (required)")
		configPath = flag.String("config", "", "path to YAML config")
		grants     = flag.String("grant", "camera,location,notifications", "comma-separated permissions to grant")
		traceFlag  = flag.Bool("trace", false, "print OpenTelemetry spans to stdout")
		yes        = flag.Bool("yes", false, "accept high-risk plans without prompting")
	)
	flag.Parse()

	if *request == "" {
		fmt.Fprintln(os.Stderr, "usage: sidekick -request \"take a photo and read the text\"")
		os.Exit(2)
	}

	if err := run(*request, *configPath, *grants, *traceFlag, *yes); err != nil {
		fmt.Fprintf(os.Stderr, "sidekick: %v\n", err)
		os.Exit(1)
	}
}

func run(request, configPath, grants string, traceFlag, yes bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if traceFlag {
		tp, err := observability.NewTracerProvider("sidekick")
		if err != nil {
			return err
		}
		defer tp.Shutdown(context.Background())
	}

	perms := permissions.NewState()
	for _, name := range strings.Split(grants, ",") {
		if name = strings.TrimSpace(name); name != "" {
			perms.Grant(permissions.Permission(name))
		}
	}

	bridge := &simulatedBridge{}
	registry := capability.NewRegistry()
	caps := []capability.Capability{
		&device.BatteryCapability{Bridge: bridge},
		&device.ConnectivityCapability{Bridge: bridge},
		&device.CameraCapability{Bridge: bridge},
		&device.OCRCapability{Bridge: bridge},
		&device.LocationCapability{Bridge: bridge},
		&device.NotificationsCapability{Bridge: bridge},
	}
	for _, c := range caps {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	registry.Seal()

	var eventBus bus.MessageBus
	if cfg.Bus.URL != "" {
		nb, err := bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: cfg.Bus.Name})
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer nb.Close()
		eventBus = nb
	} else {
		mb := bus.NewMemoryBus()
		defer mb.Close()
		eventBus = mb
	}

	var sink audit.Sink
	if cfg.Audit.DSN != "" {
		s, err := audit.NewSQLiteSink(cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer s.Close()
		sink = s
	} else {
		sink = audit.NewMemorySink()
	}

	logger := logging.NewNopLogger()
	if cfg.Logging.Dir != "" {
		l, err := logging.NewLogger(cfg.Logging.Dir, time.Now().Format("20060102-150405"))
		if err != nil {
			return err
		}
		defer l.Close()
		l.SetMinLevel(logging.Level(cfg.Logging.Level))
		logger = l
	}

	// Mirror step progress to the terminal.
	ctx := context.Background()
	progress, err := eventBus.Subscribe(ctx, "sidekick.turn.*.step.*", func(msg *bus.Message) {
		fmt.Printf("  … %s\n", string(msg.Data))
	})
	if err != nil {
		return err
	}
	defer progress.Unsubscribe()

	o := orchestrator.New(orchestrator.Options{
		Registry:  registry,
		Perms:     perms,
		Confirmer: &terminalConfirmer{autoAccept: yes},
		Audit:     sink,
		Bus:       eventBus,
		Logger:    logger,
		Metrics:   telemetry.New(prometheus.DefaultRegisterer),
		Config:    cfg,
	})

	result, err := o.RunTurn(ctx, request, intent.DeviceContext{
		BatteryLevel: 80,
		Charging:     false,
		Network:      "wifi",
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nplan %s finished: %s (%d steps, risk %s)\n",
		result.Plan.ID, result.Plan.Status, len(result.Plan.Steps), result.Report.AggregateRisk)
	fmt.Println(result.Response)
	return nil
}

// terminalConfirmer prompts on stdin for high-risk plans.
type terminalConfirmer struct {
	autoAccept bool
}

func (c *terminalConfirmer) Confirm(ctx context.Context, preview safety.PlanPreview, report safety.SecurityReport) (safety.Decision, *plan.ExecutionPlan, error) {
	fmt.Printf("\nThis request needs confirmation (risk: %s):\n", preview.AggregateRisk)
	for i, step := range preview.Steps {
		fmt.Printf("  %d. [%s] %s (~%s, risk %s)\n", i+1, step.Domain, step.Description, step.Estimate, step.Risk)
	}
	for _, flagged := range report.Flagged {
		fmt.Printf("  ! %s: %s\n", flagged.Operation, flagged.Reason)
	}
	if c.autoAccept {
		fmt.Println("proceeding (-yes)")
		return safety.DecisionAccept, nil, nil
	}

	fmt.Print("proceed? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return safety.DecisionCancel, nil, nil
	}
	if s := strings.ToLower(strings.TrimSpace(line)); s == "y" || s == "yes" {
		return safety.DecisionAccept, nil, nil
	}
	return safety.DecisionCancel, nil, nil
}

// simulatedBridge fakes the device so the engine can be exercised without
// a host app.
type simulatedBridge struct{}

func (s *simulatedBridge) BatteryStatus(ctx context.Context) (int, bool, error) {
	return 80, false, nil
}

func (s *simulatedBridge) CapturePhoto(ctx context.Context, camera string) (string, error) {
	time.Sleep(150 * time.Millisecond)
	return fmt.Sprintf("sim://photo/%s/%d", camera, time.Now().UnixMilli()), nil
}

func (s *simulatedBridge) RecognizeText(ctx context.Context, imageRef string) (string, error) {
	time.Sleep(100 * time.Millisecond)
	return "EXP 2027-03 LOT 81442", nil
}

func (s *simulatedBridge) CurrentLocation(ctx context.Context, accuracy string) (float64, float64, error) {
	time.Sleep(200 * time.Millisecond)
	return 47.6062, -122.3321, nil
}

func (s *simulatedBridge) ActiveNotifications(ctx context.Context) ([]device.Notification, error) {
	return []device.Notification{
		{App: "mail", Title: "Weekly digest", Body: "3 new threads", Posted: time.Now().Add(-time.Hour)},
		{App: "calendar", Title: "Standup", Body: "in 15 minutes", Posted: time.Now().Add(-10 * time.Minute)},
	}, nil
}

func (s *simulatedBridge) ConnectivityStatus(ctx context.Context) (string, bool, error) {
	return "wifi", true, nil
}
