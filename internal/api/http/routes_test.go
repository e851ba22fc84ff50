package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/forecast"
	"github.com/gjr80/weewx-utilities/internal/store"
)

type fakeStatus struct {
	err error
}

func (f fakeStatus) Dropped() int64 { return 2 }
func (f fakeStatus) Skipped() int64 { return 7 }
func (f fakeStatus) Err() error     { return f.err }

func newApp(t *testing.T, status StatusProvider) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	app := fiber.New()
	memStore := store.NewMemoryStore(10, 0)
	RegisterRoutes(app, memStore, status, "home")
	return app, memStore
}

func get(t *testing.T, app *fiber.App, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func snapshotAt(ts int64, temp float64) dashboard.Snapshot {
	var s dashboard.Snapshot
	s.DateTime.Now = ts
	s.OutTemp.Now = &temp
	return s
}

func TestCurrentDashboard(t *testing.T) {
	app, memStore := newApp(t, fakeStatus{})

	code, _ := get(t, app, "/api/v1/dashboard/current")
	assert.Equal(t, http.StatusNotFound, code)

	memStore.SaveSnapshot("home", snapshotAt(100, 12.5))
	memStore.SaveSnapshot("shed", snapshotAt(100, 3))

	code, body := get(t, app, "/api/v1/dashboard/current")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 12.5, body["outTemp"].(map[string]any)["now"])

	code, body = get(t, app, "/api/v1/dashboard/current?station=shed")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3.0, body["outTemp"].(map[string]any)["now"])
}

func TestDashboardHistory(t *testing.T) {
	app, memStore := newApp(t, fakeStatus{})
	for _, ts := range []int64{1000, 2000, 3000} {
		memStore.SaveSnapshot("home", snapshotAt(ts, float64(ts)))
	}

	code, body := get(t, app, "/api/v1/dashboard/history?from=1500&to=3000")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "home", body["station"])
	assert.Len(t, body["snapshots"], 2)

	from := time.Unix(0, 0).UTC().Format(time.RFC3339)
	to := time.Unix(1500, 0).UTC().Format(time.RFC3339)
	code, body = get(t, app, "/api/v1/dashboard/history?from="+from+"&to="+to)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["snapshots"], 1)

	code, _ = get(t, app, "/api/v1/dashboard/history?from=5000&to=6000")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDashboardHistoryValidation(t *testing.T) {
	app, _ := newApp(t, fakeStatus{})

	for _, target := range []string{
		"/api/v1/dashboard/history",
		"/api/v1/dashboard/history?from=1000",
		"/api/v1/dashboard/history?from=yesterday&to=1000",
		"/api/v1/dashboard/history?from=2000&to=1000",
	} {
		code, _ := get(t, app, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
	}
}

func TestStatus(t *testing.T) {
	app, _ := newApp(t, fakeStatus{})
	code, body := get(t, app, "/api/v1/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, 7.0, body["skipped"])

	app, _ = newApp(t, fakeStatus{err: errors.New("loop died")})
	code, body = get(t, app, "/api/v1/status")
	require.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "loop died", body["error"])
}

type fakeForecast struct {
	conditions *forecast.Conditions
}

func (f fakeForecast) Conditions() (forecast.Conditions, bool) {
	if f.conditions == nil {
		return forecast.Conditions{}, false
	}
	return *f.conditions, true
}

func (f fakeForecast) Forecast() (forecast.Forecast, bool) {
	return forecast.Forecast{}, false
}

func TestForecastRoutes(t *testing.T) {
	app := fiber.New()
	RegisterForecastRoutes(app, fakeForecast{})
	code, _ := get(t, app, "/api/v1/conditions")
	assert.Equal(t, http.StatusNotFound, code)

	temp := 21.5
	app = fiber.New()
	RegisterForecastRoutes(app, fakeForecast{conditions: &forecast.Conditions{Temperature: &temp, Condition: forecast.ConditionClear, LastUpdated: 1700000000}})
	code, body := get(t, app, "/api/v1/conditions")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 21.5, body["temperature"])
	assert.Equal(t, "clear", body["condition"])
	assert.Equal(t, 1700000000.0, body["last_updated"])

	code, _ = get(t, app, "/api/v1/forecast")
	assert.Equal(t, http.StatusNotFound, code)
}

type fakeSlow struct {
	doc *dashboard.Slow
}

func (f fakeSlow) Slow() (dashboard.Slow, bool) {
	if f.doc == nil {
		return dashboard.Slow{}, false
	}
	return *f.doc, true
}

func TestYesterdayRoute(t *testing.T) {
	app := fiber.New()
	RegisterSlowRoutes(app, fakeSlow{})
	code, _ := get(t, app, "/api/v1/dashboard/yesterday")
	assert.Equal(t, http.StatusNotFound, code)

	rain := 4.2
	doc := dashboard.Slow{}
	doc.DateTime.Now = 1700000000
	doc.Rain.Yest = &rain
	app = fiber.New()
	RegisterSlowRoutes(app, fakeSlow{doc: &doc})
	code, body := get(t, app, "/api/v1/dashboard/yesterday")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"yest": 4.2}, body["rain"])
	assert.Equal(t, map[string]any{"now": 1700000000.0}, body["dateTime"])
}
