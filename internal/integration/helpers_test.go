//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("phase-correct-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

var testGen = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

// shiftFixture is a 10x10 ramp whose forecast trails the verification by
// two cells in x.
func shiftFixture(t *testing.T, lead int) domain.Fixture {
	t.Helper()
	ramp := func(x, y int) float64 { return 100 + float64(x) + 20*float64(y) }
	build := func(f func(x, y int) float64) domain.GridPayload {
		g, err := grid.New(10, 10, grid.DefaultMissing)
		require.NoError(t, err)
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				g.Set(x, y, f(x, y))
			}
		}
		g.DxKm, g.DyKm = 3, 3
		return domain.PayloadFromGrid(g)
	}
	return domain.Fixture{
		Request: domain.CorrectionRequest{GenTime: testGen, LeadSeconds: lead},
		ShiftU:  2,
		Grids: []domain.FixtureGrid{
			{Field: "precip", Kind: domain.KindForecast, Grid: build(ramp)},
			{Field: "precip", Kind: domain.KindVerification, Grid: build(func(x, y int) float64 { return ramp(x-2, y) })},
		},
	}
}

// engineParams tiles the 10x10 fixture into 4x4 blocks without smoothing.
func engineParams() pyramid.Params {
	return pyramid.Params{
		Fields:                []pyramid.FieldParams{{Name: "precip", Alpha: 1, Variance: 1}},
		LowResNgridpts:        1,
		VolSize:               [2]int{4, 4},
		VolOverlap:            [2]int{2, 2},
		ShiftResNpt:           1,
		MaxShift:              2,
		GoodScaling:           1,
		GoodDistScaling:       1,
		Polarity:              "lower",
		FractionalAreaMinPcnt: 0.1,
		GridAreaMinPcnt:       0.01,
		ConvThresh:            0.5,
		NptToExpansion:        []fuzzy.Point{{X: 1, Y: 0}, {X: 10, Y: 1}},
	}
}

// gridServer serves fixture grids on the grid server's routes, one
// fixture per lead time.
func gridServer(t *testing.T, fixtures ...domain.Fixture) *httptest.Server {
	t.Helper()
	byLead := make(map[int]domain.Fixture, len(fixtures))
	for _, f := range fixtures {
		byLead[f.Request.LeadSeconds] = f
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/grids/{gen}/{lead}/{field}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		gen, err := time.Parse(time.RFC3339, r.PathValue("gen"))
		if err != nil {
			http.Error(w, "bad gen time", http.StatusBadRequest)
			return
		}
		lead, err := strconv.Atoi(r.PathValue("lead"))
		if err != nil {
			http.Error(w, "bad lead", http.StatusBadRequest)
			return
		}
		f, ok := byLead[lead]
		if !ok || !gen.Equal(f.Request.GenTime) {
			http.NotFound(w, r)
			return
		}
		p, ok := f.Lookup(r.PathValue("field"), domain.GridKind(r.PathValue("kind")))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
