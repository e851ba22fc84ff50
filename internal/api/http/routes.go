package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/forecast"
	"github.com/gjr80/weewx-utilities/internal/store"
)

var validate = validator.New()

// SnapshotReader serves published dashboard snapshots.
type SnapshotReader interface {
	GetLatest(station string) (dashboard.Snapshot, error)
	GetRange(station string, from, to time.Time) ([]dashboard.Snapshot, error)
}

// StatusProvider reports the health of the realtime loop.
type StatusProvider interface {
	Dropped() int64
	Skipped() int64
	Err() error
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Requests without
// a station query parameter use defaultStation.
func RegisterRoutes(app *fiber.App, snapshots SnapshotReader, status StatusProvider, defaultStation string) {
	v1 := app.Group("/api/v1")

	v1.Get("/dashboard/current", func(c *fiber.Ctx) error {
		q := stationQuery{Station: c.Query("station", defaultStation)}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot, err := snapshots.GetLatest(q.Station)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no dashboard data for requested station")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch dashboard data")
		}

		return c.JSON(snapshot)
	})

	v1.Get("/dashboard/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c, defaultStation); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		history, err := snapshots.GetRange(req.Station, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no dashboard history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch dashboard history")
		}

		return c.JSON(fiber.Map{
			"station":   req.Station,
			"from":      req.From,
			"to":        req.To,
			"snapshots": history,
		})
	})

	v1.Get("/status", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"running": status.Err() == nil,
			"dropped": status.Dropped(),
			"skipped": status.Skipped(),
		}
		if err := status.Err(); err != nil {
			body["error"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
		return c.JSON(body)
	})
}

// ForecastReader serves the latest downloaded conditions and forecast.
type ForecastReader interface {
	Conditions() (forecast.Conditions, bool)
	Forecast() (forecast.Forecast, bool)
}

// RegisterForecastRoutes wires the conditions and forecast handlers.
func RegisterForecastRoutes(app *fiber.App, reader ForecastReader) {
	v1 := app.Group("/api/v1")

	v1.Get("/conditions", func(c *fiber.Ctx) error {
		conditions, ok := reader.Conditions()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no conditions downloaded yet")
		}
		return c.JSON(conditions)
	})

	v1.Get("/forecast", func(c *fiber.Ctx) error {
		fc, ok := reader.Forecast()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no forecast downloaded yet")
		}
		return c.JSON(fc)
	})
}

// SlowReader serves the document of the previous day's statistics.
type SlowReader interface {
	Slow() (dashboard.Slow, bool)
}

// RegisterSlowRoutes wires the yesterday statistics handler.
func RegisterSlowRoutes(app *fiber.App, reader SlowReader) {
	app.Get("/api/v1/dashboard/yesterday", func(c *fiber.Ctx) error {
		doc, ok := reader.Slow()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no archive record processed yet")
		}
		return c.JSON(doc)
	})
}

type stationQuery struct {
	Station string `validate:"required,max=64"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Station string    `validate:"required,max=64"`
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx, defaultStation string) error {
	h.Station = c.Query("station", defaultStation)

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
