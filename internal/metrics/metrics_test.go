package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Collectors must be usable after repeated Init.
	ObserveProcessed("consultation")
	ObserveSaved("consultation")
	ObserveDropped("duplicate")
	ObservePage("consultation")
	ObserveFetch("headless", "ok")
	IncActiveJobs()
	DecActiveJobs()
	ObserveRateLimitDelay("portal.example", 250*time.Millisecond)
	ObserveStageDuration("validator", time.Millisecond)
}

func TestHandlerServesExposition(t *testing.T) {
	Init()
	ObserveDropped("missing_required_field")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "pmmp_items_dropped_total")
}
