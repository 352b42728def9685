// Package ocipublish pushes a reconciliation run's occupancy and wait
// summary to OCI Monitoring as a custom metric namespace. It is a
// collaborator, not part of the reconstruction core: the core never
// depends on it, it only depends on the core's public Table type. Grounded
// on the teacher's pkg/oci/metrics.go (instance-principal auth, paginated
// SDK call wrapping) with PostMetricData in place of SummarizeMetricsData.
package ocipublish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
)

const (
	defaultNamespace    = "kffrecon_queue"
	metricOccupancy     = "QueueOccupancy"
	metricWaitP95       = "WaitP95Minutes"
	metricEpisodeCount  = "EpisodeCount"
	resourceGroupLatest = "latest"
)

var (
	errMissingCompartmentID = errors.New("ocipublish: compartment ID is required")
	errMissingResourceID    = errors.New("ocipublish: resource ID is required")
	errMissingMetricsClient = errors.New("ocipublish: metrics client is required")
	errNilClient            = errors.New("ocipublish: client receiver is nil")
)

type postMetricsClient interface {
	PostMetricData(
		ctx context.Context,
		request monitoring.PostMetricDataRequest,
	) (monitoring.PostMetricDataResponse, error)
}

// Summary is the reconciled-run snapshot pushed to OCI Monitoring.
type Summary struct {
	At           time.Time
	Occupancy    float64
	WaitP95      float64
	EpisodeCount float64
}

// Client publishes reconciliation Summary values to a compartment's
// Monitoring custom metric namespace.
type Client struct {
	metrics       postMetricsClient
	compartmentID string
	namespace     string
}

// NewInstancePrincipalClient constructs a Client backed by the OCI Go SDK
// using instance principal authentication, the same provider the teacher's
// QueryP95CPU path uses for reads.
func NewInstancePrincipalClient(compartmentID string) (*Client, error) {
	if compartmentID == "" {
		return nil, errMissingCompartmentID
	}

	provider, err := auth.InstancePrincipalConfigurationProvider()
	if err != nil {
		return nil, fmt.Errorf("build instance principal provider: %w", err)
	}

	monitoringClient, err := monitoring.NewMonitoringClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("create monitoring client: %w", err)
	}

	return newClient(&sdkMonitoringClient{client: &monitoringClient}, compartmentID)
}

func newClient(metrics postMetricsClient, compartmentID string) (*Client, error) {
	if metrics == nil {
		return nil, errMissingMetricsClient
	}

	if compartmentID == "" {
		return nil, errMissingCompartmentID
	}

	return &Client{metrics: metrics, compartmentID: compartmentID, namespace: defaultNamespace}, nil
}

// Publish posts the occupancy, wait, and episode-count gauges for one
// reconciliation run, dimensioned by the resource (checkpoint) OCID.
func (c *Client) Publish(ctx context.Context, resourceID string, summary Summary) error {
	if c == nil {
		return errNilClient
	}

	if resourceID == "" {
		return errMissingResourceID
	}

	at := summary.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	details := monitoring.PostMetricDataDetails{
		MetricData: []monitoring.MetricDataDetails{
			c.gauge(resourceID, metricOccupancy, at, summary.Occupancy),
			c.gauge(resourceID, metricWaitP95, at, summary.WaitP95),
			c.gauge(resourceID, metricEpisodeCount, at, summary.EpisodeCount),
		},
	}

	request := monitoring.PostMetricDataRequest{
		PostMetricDataDetails: details,
	}

	_, err := c.metrics.PostMetricData(ctx, request)
	if err != nil {
		return fmt.Errorf("post metric data: %w", err)
	}

	return nil
}

func (c *Client) gauge(
	resourceID, name string,
	at time.Time,
	value float64,
) monitoring.MetricDataDetails {
	namespace := c.namespace
	compartmentID := c.compartmentID
	resourceGroup := resourceGroupLatest
	timestamp := common.SDKTime{Time: at}

	return monitoring.MetricDataDetails{
		Namespace:     &namespace,
		CompartmentId: &compartmentID,
		Name:          &name,
		Dimensions:    map[string]string{"resourceId": resourceID},
		ResourceGroup: &resourceGroup,
		Datapoints: []monitoring.Datapoint{
			{Timestamp: &timestamp, Value: &value, Count: nil},
		},
		Metadata: nil,
	}
}

type sdkMonitoringClient struct {
	client *monitoring.MonitoringClient
}

func (s *sdkMonitoringClient) PostMetricData(
	ctx context.Context,
	request monitoring.PostMetricDataRequest,
) (monitoring.PostMetricDataResponse, error) {
	httpRequest, err := request.HTTPRequest(http.MethodPost, "/metrics", nil, nil)
	if err != nil {
		return monitoring.PostMetricDataResponse{}, fmt.Errorf("build post metric request: %w", err)
	}

	httpResponse, err := s.client.Call(ctx, &httpRequest)

	if httpResponse != nil {
		defer func() {
			common.CloseBodyIfValid(httpResponse)
		}()
	}

	var response monitoring.PostMetricDataResponse

	response.RawResponse = httpResponse

	if err != nil {
		apiReferenceLink := "https://docs.oracle.com/iaas/api/#/en/monitoring/20180401/MetricData/PostMetricData"
		wrapped := common.PostProcessServiceError(err, "Monitoring", "PostMetricData", apiReferenceLink)

		return response, fmt.Errorf("execute post metric data request: %w", wrapped)
	}

	err = common.UnmarshalResponse(httpResponse, &response)
	if err != nil {
		return response, fmt.Errorf("decode post metric data response: %w", err)
	}

	return response, nil
}

// newTestClient exposes the constructor hook for unit tests.
func newTestClient(metrics postMetricsClient, compartmentID string) (*Client, error) {
	return newClient(metrics, compartmentID)
}
