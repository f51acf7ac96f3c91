package ipfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

func TestFetchSpecification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metric":"tvl","payload":{"protocol":"aave"}}`))
	}))
	defer server.Close()

	client := New(server.URL)
	spec, err := client.FetchSpecification(context.Background(), "bafyabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Metric != "tvl" {
		t.Fatalf("got metric %s, want tvl", spec.Metric)
	}
	payload, ok := spec.Payload.(*specification.TVLPayload)
	if !ok || payload.Protocol != "aave" {
		t.Fatalf("unexpected payload: %+v", spec.Payload)
	}
}

func TestFetchSpecificationMalformedIsPermanent(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.FetchSpecification(context.Background(), "bafyabc")
	if err == nil {
		t.Fatal("expected error for malformed specification")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request for a permanent failure, got %d", calls)
	}
}
