package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core/notification"
)

type notificationApi struct {
	svc *notification.Service
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notification.Service) {
	api := notificationApi{svc: svc}

	ng := g.Group("/notifications", jwt, adminMiddleware())
	ng.GET("", api.queryMarks)
	ng.POST("/check", api.check)
}

func (api *notificationApi) queryMarks(ctx echo.Context) error {
	var filter notification.MarkFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to MarkFilter")
	}

	marks, err := api.svc.QueryMarks(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying notification marks")
	}
	if marks == nil {
		marks = []notification.Mark{}
	}
	return ctx.JSON(http.StatusOK, marks)
}

// check runs a notification check now. Kinds already sent today are not sent again.
func (api *notificationApi) check(ctx echo.Context) error {
	plan, err := api.svc.CheckFixtures(ctx.Request().Context(), notification.NowFunc())
	if err != nil {
		return errors.Wrap(err, "checking fixtures")
	}
	return ctx.JSON(http.StatusOK, plan)
}
