package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurnStartEnd(t *testing.T) {
	turnsActive.Set(0)
	turnDuration.Reset()

	RecordTurnStart()
	if active := testutil.ToFloat64(turnsActive); active != 1 {
		t.Errorf("expected 1 active turn, got %f", active)
	}

	RecordTurnStart()
	if active := testutil.ToFloat64(turnsActive); active != 2 {
		t.Errorf("expected 2 active turns, got %f", active)
	}

	RecordTurnEnd("complete", 3.2)
	RecordTurnEnd("timeout", 60.0)
	if active := testutil.ToFloat64(turnsActive); active != 0 {
		t.Errorf("expected 0 active turns after ends, got %f", active)
	}
	if count := testutil.CollectAndCount(turnDuration); count == 0 {
		t.Error("expected turn duration observations")
	}
}

func TestRecordDirective(t *testing.T) {
	directivesTotal.Reset()

	RecordDirective("highlight", "model")
	RecordDirective("highlight", "model")
	RecordDirective("highlight", "fallback")
	RecordDirective("navigate", "model")

	model := testutil.ToFloat64(directivesTotal.WithLabelValues("highlight", "model"))
	fallback := testutil.ToFloat64(directivesTotal.WithLabelValues("highlight", "fallback"))

	if model != 2 {
		t.Errorf("expected 2 model highlights, got %f", model)
	}
	if fallback != 1 {
		t.Errorf("expected 1 fallback highlight, got %f", fallback)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	providerRequestDuration.Reset()
	providerRequestsTotal.Reset()

	RecordProviderRequest("openai", "gpt-4o-mini", "success", 1.5)
	RecordProviderRequest("openai", "gpt-4o-mini", "error", 0.5)

	success := testutil.ToFloat64(providerRequestsTotal.WithLabelValues("openai", "gpt-4o-mini", "success"))
	if success != 1 {
		t.Errorf("expected 1 success request, got %f", success)
	}
}

func TestRecordProviderTokens(t *testing.T) {
	providerTokensTotal.Reset()

	RecordProviderTokens("openai", "gpt-4o-mini", 100, 50)
	RecordProviderTokens("openai", "gpt-4o-mini", 0, 25)

	input := testutil.ToFloat64(providerTokensTotal.WithLabelValues("openai", "gpt-4o-mini", "input"))
	output := testutil.ToFloat64(providerTokensTotal.WithLabelValues("openai", "gpt-4o-mini", "output"))

	if input != 100 {
		t.Errorf("expected 100 input tokens, got %f", input)
	}
	if output != 75 {
		t.Errorf("expected 75 output tokens, got %f", output)
	}
}

func TestExporterServesMetrics(t *testing.T) {
	exporter := NewExporter(":0")

	RecordHeartbeat()
	RecordStreamChunk("openai")

	srv := httptest.NewServer(exporter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "docent_heartbeats_total") {
		t.Error("heartbeats metric not exposed")
	}
	if !strings.Contains(string(body), "docent_stream_chunks_total") {
		t.Error("stream chunks metric not exposed")
	}
}

func TestExporterShutdownBeforeStart(t *testing.T) {
	exporter := NewExporter(":0")
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown without start: %v", err)
	}
}
