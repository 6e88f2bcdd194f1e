package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
)

type fixtureApi struct {
	svc      *fixture.Service
	validate *validator.Validate
}

func registerFixtureAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *fixture.Service, validate *validator.Validate) {
	api := fixtureApi{
		svc:      svc,
		validate: validate,
	}

	fg := g.Group("/fixtures")

	// public; admin routes carry their middleware per route so that no group
	// middleware is registered over the public path
	fg.GET("", api.listDays)

	// admin
	fg.POST("", api.create, jwt, adminMiddleware())
	fg.GET("/search", api.query, jwt, adminMiddleware())
	fg.DELETE("", api.destroyMultiple, jwt, adminMiddleware())
	fg.POST("/import", api.importCSV, jwt, adminMiddleware())
	fg.GET("/export", api.exportCSV, jwt, adminMiddleware())
	fg.GET("/:id", api.retrieve, jwt, adminMiddleware(), api.objectMiddleware)
	fg.PUT("/:id", api.update, jwt, adminMiddleware(), api.objectMiddleware)
	fg.DELETE("/:id", api.destroy, jwt, adminMiddleware(), api.objectMiddleware)

	gg := g.Group("/game-weeks", jwt, adminMiddleware())
	gg.GET("", api.queryGameWeeks)
	gg.POST("", api.createGameWeek)
	gg.GET("/:id", api.retrieveGameWeek)
	gg.PUT("/:id", api.updateGameWeek)
	gg.DELETE("/:id", api.destroyGameWeek)
}

// Handlers

// listDays serves the public fixture list. Clients revalidate with If-None-Match.
func (api *fixtureApi) listDays(ctx echo.Context) error {
	days, err := api.svc.ListDays(ctx.Request().Context(), ctx.QueryParam("from"), ctx.QueryParam("to"))
	if err != nil {
		return errors.Wrap(err, "listing fixture days")
	}

	body, err := json.Marshal(days)
	if err != nil {
		return errors.Wrap(err, "encoding fixture days")
	}
	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`

	header := ctx.Response().Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", "public, max-age=60")
	if ctx.Request().Header.Get("If-None-Match") == etag {
		return ctx.NoContent(http.StatusNotModified)
	}
	return ctx.JSONBlob(http.StatusOK, body)
}

func (api *fixtureApi) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		f, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			return notFoundOr(err, fixture.ErrNotFound, "getting fixture")
		}
		ctx.Set("object", f)
		return next(ctx)
	}
}

func (api *fixtureApi) create(ctx echo.Context) error {
	var data fixture.NewFixture
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFixture")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	f, err := api.svc.Create(rctx, data)
	if err != nil {
		if errors.Cause(err) == fixture.ErrExists {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "creating fixture")
	}
	return ctx.JSON(http.StatusCreated, f)
}

func (api *fixtureApi) query(ctx echo.Context) error {
	var q FixtureQuery
	if err := ctx.Bind(&q); err != nil {
		return errors.Wrap(err, "binding to FixtureQuery")
	}
	filter, err := q.filter()
	if err != nil {
		return err
	}

	fixtures, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying fixtures")
	}
	if fixtures == nil {
		fixtures = []fixture.Fixture{}
	}
	return ctx.JSON(http.StatusOK, fixtures)
}

func (api *fixtureApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctx.Get("object"))
}

func (api *fixtureApi) update(ctx echo.Context) error {
	f, ok := ctx.Get("object").(fixture.Fixture)
	if !ok {
		return errors.New("fixture not found in echo.Context")
	}

	var data fixture.UpdateFixture
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateFixture")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, f, api.validate, api.svc); err != nil {
		return err
	}

	f, err := api.svc.Update(rctx, f, data)
	if err != nil {
		if errors.Cause(err) == fixture.ErrExists {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "updating fixture")
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *fixtureApi) destroy(ctx echo.Context) error {
	if _, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting fixture")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *fixtureApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	n, err := api.svc.Delete(ctx.Request().Context(), query.IDs...)
	if err != nil {
		return errors.Wrap(err, "deleting fixtures")
	}
	return ctx.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (api *fixtureApi) importCSV(ctx echo.Context) error {
	file, err := openUpload(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	res, err := api.svc.Import(ctx.Request().Context(), file)
	if err != nil {
		return errors.Wrap(err, "importing fixtures")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *fixtureApi) exportCSV(ctx echo.Context) error {
	var buf bytes.Buffer
	if err := api.svc.Export(ctx.Request().Context(), &buf, ctx.QueryParam("from"), ctx.QueryParam("to")); err != nil {
		return errors.Wrap(err, "exporting fixtures")
	}
	return sendCSV(ctx, "fixtures.csv", &buf)
}

// Game weeks

func (api *fixtureApi) queryGameWeeks(ctx echo.Context) error {
	filter := fixture.GameWeekFilter{
		Season: ctx.QueryParam("season"),
		Day:    core.CleanString(ctx.QueryParam("day")),
	}
	gws, err := api.svc.QueryGameWeeks(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying game weeks")
	}
	if gws == nil {
		gws = []fixture.GameWeek{}
	}
	return ctx.JSON(http.StatusOK, gws)
}

func (api *fixtureApi) createGameWeek(ctx echo.Context) error {
	var data fixture.NewGameWeek
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGameWeek")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	gw, err := api.svc.CreateGameWeek(rctx, data)
	if err != nil {
		if errors.Cause(err) == fixture.ErrGameWeekExists {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "creating game week")
	}
	return ctx.JSON(http.StatusCreated, gw)
}

func (api *fixtureApi) retrieveGameWeek(ctx echo.Context) error {
	gw, err := api.svc.GetGameWeek(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return notFoundOr(err, fixture.ErrGameWeekNotFound, "getting game week")
	}
	return ctx.JSON(http.StatusOK, gw)
}

func (api *fixtureApi) updateGameWeek(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	gw, err := api.svc.GetGameWeek(rctx, ctx.Param("id"))
	if err != nil {
		return notFoundOr(err, fixture.ErrGameWeekNotFound, "getting game week")
	}

	var data fixture.UpdateGameWeek
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateGameWeek")
	}
	if err = data.Validate(rctx, gw, api.validate, api.svc); err != nil {
		return err
	}

	gw, err = api.svc.UpdateGameWeek(rctx, gw, data)
	if err != nil {
		if errors.Cause(err) == fixture.ErrGameWeekExists {
			return core.NewValidationError(err)
		}
		return errors.Wrap(err, "updating game week")
	}
	return ctx.JSON(http.StatusOK, gw)
}

func (api *fixtureApi) destroyGameWeek(ctx echo.Context) error {
	if err := api.svc.DeleteGameWeek(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return notFoundOr(err, fixture.ErrGameWeekNotFound, "deleting game week")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// FixtureQuery is the admin fixture search. From and To are local days; both empty means no date bound.
type FixtureQuery struct {
	From       string   `query:"from"`
	To         string   `query:"to"`
	GameWeekID string   `query:"game_week_id"`
	Search     string   `query:"search"`
	Statuses   []string `query:"status"`
}

func (q FixtureQuery) filter() (fixture.QueryFilter, error) {
	filter := fixture.QueryFilter{
		GameWeekID: core.CleanString(q.GameWeekID),
		Search:     q.Search,
	}
	for _, s := range q.Statuses {
		status, ok := fixture.ParseStatus(s)
		if !ok {
			return filter, core.NewFieldError("status", "invalid status "+strconv.Quote(s))
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if core.CleanString(q.From) == "" && core.CleanString(q.To) == "" {
		return filter, nil
	}

	loc := core.Conf.Location()
	from, to, err := fixture.DayRange(q.From, q.To, fixture.NowFunc(), loc)
	if err != nil {
		return filter, err
	}
	filter.From = from.UTC()
	filter.To = core.AddDays(to, 1).UTC()
	return filter, nil
}
