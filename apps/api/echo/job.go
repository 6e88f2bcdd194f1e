package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core/job"
)

type jobApi struct {
	svc *job.Service
}

func registerJobAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *job.Service) {
	api := jobApi{svc: svc}

	jg := g.Group("/jobs", jwt, adminMiddleware())
	jg.GET("", api.query)
	jg.GET("/:id", api.retrieve)
	jg.POST("/:id/retry", api.retry)
}

func (api *jobApi) query(ctx echo.Context) error {
	var filter job.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []job.Job{})
	}

	jobs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying jobs")
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	return ctx.JSON(http.StatusOK, jobs)
}

func (api *jobApi) retrieve(ctx echo.Context) error {
	j, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return notFoundOr(err, job.ErrNotFound, "getting job")
	}
	return ctx.JSON(http.StatusOK, j)
}

func (api *jobApi) retry(ctx echo.Context) error {
	j, err := api.svc.Retry(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == job.ErrConflict {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return notFoundOr(err, job.ErrNotFound, "retrying job")
	}
	return ctx.JSON(http.StatusOK, j)
}
