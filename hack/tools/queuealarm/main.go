// Command queuealarm verifies that an OCI Monitoring alarm is configured
// against the custom queue-occupancy metric namespace pkg/ocipublish writes
// to, so operators notice when reconciled occupancy breaches an SLA even
// though the reconstruction core itself has no alerting surface. Grounded
// directly on the teacher's hack/tools/alarmguard: same list/verify flow
// against the OCI Monitoring alarms API, adapted to a different namespace
// and query shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
)

const (
	defaultTimeout = 60 * time.Second
	defaultMetric  = "QueueOccupancy"
	queueNamespace = "kffrecon_queue"
	listPageLimit  = 1000

	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	errCompartmentRequired = errors.New("compartment OCID is required")
	errResourceRequired    = errors.New("resource OCID is required")
	errRegionRequired      = errors.New("region is required")
	errTimeoutInvalid      = errors.New("timeout must be greater than zero")
	errGuardrailMissing    = errors.New(
		"no queue-occupancy alarm matched the expected configuration",
	)
)

type config struct {
	CompartmentID string
	ResourceID    string
	Region        string
	MetricName    string
	Timeout       time.Duration
}

func main() {
	if code := run(os.Args[1:]); code != exitOK {
		os.Exit(code)
	}
}

func run(args []string) int {
	cfg, err := parseConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuealarm: %v\n", err)

		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	provider, err := auth.InstancePrincipalConfigurationProvider()
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuealarm: failed to initialise instance principal provider: %v\n", err)

		return exitError
	}

	client, err := monitoring.NewMonitoringClientWithConfigurationProvider(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuealarm: failed to create monitoring client: %v\n", err)

		return exitError
	}

	client.SetRegion(cfg.Region)

	present, err := findGuardrail(ctx, client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuealarm: %v\n", err)

		return exitError
	}

	if !present {
		fmt.Fprintf(os.Stderr, "queuealarm: %v\n", errGuardrailMissing)

		return exitError
	}

	return exitOK
}

func parseConfig(args []string) (config, error) {
	cfg := config{ //nolint:exhaustruct
		MetricName: defaultMetric,
		Timeout:    defaultTimeout,
	}

	flagSet := flag.NewFlagSet("queuealarm", flag.ContinueOnError)
	registerFlags(flagSet, &cfg)

	if err := flagSet.Parse(args); err != nil {
		return config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func (c config) validate() error {
	switch {
	case c.CompartmentID == "":
		return errCompartmentRequired
	case c.ResourceID == "":
		return errResourceRequired
	case c.Region == "":
		return errRegionRequired
	case c.Timeout <= 0:
		return errTimeoutInvalid
	default:
		return nil
	}
}

func findGuardrail(ctx context.Context, client monitoringClient, cfg config) (bool, error) {
	request := monitoring.ListAlarmsRequest{ //nolint:exhaustruct
		CompartmentId:  common.String(cfg.CompartmentID),
		LifecycleState: monitoring.AlarmLifecycleStateActive,
		Limit:          common.Int(listPageLimit),
	}

	for {
		response, err := client.ListAlarms(ctx, request)
		if err != nil {
			return false, fmt.Errorf("list alarms: %w", err)
		}

		for _, summary := range response.Items {
			if summaryMatches(summary, cfg) {
				return true, nil
			}
		}

		if response.OpcNextPage == nil || len(*response.OpcNextPage) == 0 {
			break
		}

		request.Page = response.OpcNextPage
	}

	return false, nil
}

func summaryMatches(summary monitoring.AlarmSummary, cfg config) bool {
	if summary.LifecycleState != monitoring.AlarmLifecycleStateActive {
		return false
	}

	if summary.IsEnabled == nil || !*summary.IsEnabled {
		return false
	}

	if strings.ToLower(stringValue(summary.Namespace)) != strings.ToLower(queueNamespace) {
		return false
	}

	return queryMatches(stringValue(summary.Query), cfg)
}

func queryMatches(query string, cfg config) bool {
	if query == "" {
		return false
	}

	normalized := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(query, " ", ""), "\n", ""))
	expectedMetric := strings.ToLower(cfg.MetricName)
	expectedResource := fmt.Sprintf("resourceid=\"%s\"", strings.ToLower(cfg.ResourceID))

	if !strings.Contains(normalized, expectedMetric+"[1m]{") {
		return false
	}

	return strings.Contains(normalized, expectedResource)
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}

	return *ptr
}

type monitoringClient interface {
	ListAlarms(
		ctx context.Context,
		request monitoring.ListAlarmsRequest,
	) (monitoring.ListAlarmsResponse, error)
}

func registerFlags(flagSet *flag.FlagSet, cfg *config) {
	flagSet.SetOutput(os.Stderr)
	flagSet.StringVar(&cfg.CompartmentID, "compartment", "", "Compartment OCID that should contain the guardrail alarm.")
	flagSet.StringVar(&cfg.ResourceID, "resource-id", "", "Resource OCID dimension the alarm should match (the checkpoint published by ocipublish).")
	flagSet.StringVar(&cfg.Region, "region", "", "OCI region identifier (for example, eu-stockholm-1).")
	flagSet.StringVar(&cfg.MetricName, "metric", defaultMetric, "Metric name the alarm should query (QueueOccupancy, WaitP95Minutes, EpisodeCount).")
	flagSet.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "Overall timeout for the alarm verification call.")
}
