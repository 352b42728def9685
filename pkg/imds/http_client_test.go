package imds_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kff-recon/pkg/imds"
)

const (
	regionResourcePath     = "/opc/v2/instance/region"
	instanceIDResourcePath = "/opc/v2/instance/id"
	authorizationHeaderKey = "Authorization"
	metadataAuthHeaderVal  = "Bearer Oracle"
)

func TestHTTPClientHappyPath(t *testing.T) {
	t.Parallel()

	responses := map[string]string{
		regionResourcePath:     "us-phoenix-1\n",
		instanceIDResourcePath: "ocid1.instance.oc1..exampleuniqueID",
	}

	server := newIMDSTestServer(t, responses)
	client := imds.NewClient(server.Client(), imds.WithBaseURL(server.URL+"/opc/v2"))

	ctx := context.Background()

	region, err := client.Region(ctx)
	if err != nil {
		t.Fatalf("Region() error: %v", err)
	}
	if region != "us-phoenix-1" {
		t.Fatalf("Region() = %q, want %q", region, "us-phoenix-1")
	}

	instanceID, err := client.InstanceID(ctx)
	if err != nil {
		t.Fatalf("InstanceID() error: %v", err)
	}
	if instanceID != responses[instanceIDResourcePath] {
		t.Fatalf("InstanceID() = %q, want %q", instanceID, responses[instanceIDResourcePath])
	}
}

func TestHTTPClientRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(authorizationHeaderKey) != metadataAuthHeaderVal {
			t.Errorf("missing IMDS auth header")
		}

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte("us-ashburn-1"))
	}))
	defer server.Close()

	client := imds.NewClient(
		server.Client(),
		imds.WithBaseURL(server.URL+"/opc/v2"),
		imds.WithBackoff(time.Millisecond),
	)

	region, err := client.Region(context.Background())
	if err != nil {
		t.Fatalf("Region() error after retry: %v", err)
	}
	if region != "us-ashburn-1" {
		t.Fatalf("Region() = %q, want %q", region, "us-ashburn-1")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestHTTPClientFailsFastOnClientError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := imds.NewClient(server.Client(), imds.WithBaseURL(server.URL+"/opc/v2"), imds.WithMaxAttempts(3))

	_, err := client.InstanceID(context.Background())
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func newIMDSTestServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}
