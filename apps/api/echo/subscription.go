package echoapi

import (
	"bytes"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/subscriber"
)

var (
	msgCheckInbox = "We sent you a confirmation link, follow it to start receiving notifications."
	msgCheckPhone = "We texted you a 6-digit code, enter it to start receiving notifications."
	msgUpdated    = "Your notification preferences have been updated."
	msgVerified   = "Your subscription is confirmed."
	msgResent     = "If this address has a pending subscription, a new confirmation is on its way."
	msgGoodbye    = "You have been unsubscribed."
)

type subscriptionApi struct {
	svc      *subscriber.Service
	validate *validator.Validate
}

func registerSubscriptionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	limit echo.MiddlewareFunc,
	svc *subscriber.Service,
	validate *validator.Validate,
) {
	api := subscriptionApi{
		svc:      svc,
		validate: validate,
	}

	// public, rate limited
	pg := g.Group("/subscriptions", limit)
	pg.POST("", api.subscribe)
	pg.POST("/verify", api.verifyEmail)
	pg.POST("/verify-code", api.verifyCode)
	pg.POST("/resend", api.resend)
	pg.POST("/unsubscribe", api.unsubscribe)

	// admin
	ag := g.Group("/subscribers", jwt, adminMiddleware())
	ag.GET("", api.query)
	ag.DELETE("", api.destroyMultiple)
	ag.GET("/export", api.exportCSV)
	ag.POST("/import", api.importCSV)
	ag.GET("/:id", api.retrieve)
	ag.DELETE("/:id", api.destroy)
	ag.POST("/:id/resend", api.resendByID)
}

// Public handlers

func (api *subscriptionApi) subscribe(ctx echo.Context) error {
	var data subscriber.NewSubscription
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubscription")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sub, created, err := api.svc.Subscribe(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "subscribing")
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	res := SubscriptionResponse{Channel: sub.Channel, Address: sub.Address, Verified: sub.IsVerified()}
	switch {
	case sub.IsVerified():
		res.Success = msgUpdated
	case sub.Channel == subscriber.ChannelSMS:
		res.Success = msgCheckPhone
	default:
		res.Success = msgCheckInbox
	}
	return ctx.JSON(code, res)
}

func (api *subscriptionApi) verifyEmail(ctx echo.Context) error {
	var data subscriber.VerifyEmail
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyEmail")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.VerifyEmail(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "verifying email")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgVerified})
}

func (api *subscriptionApi) verifyCode(ctx echo.Context) error {
	var data subscriber.VerifyCode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyCode")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.VerifyCode(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "verifying code")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgVerified})
}

func (api *subscriptionApi) resend(ctx echo.Context) error {
	var data subscriber.ResendVerification
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResendVerification")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.Resend(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resending verification")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgResent})
}

func (api *subscriptionApi) unsubscribe(ctx echo.Context) error {
	var data subscriber.Unsubscribe
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Unsubscribe")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.Unsubscribe(ctx.Request().Context(), data.Token); err != nil {
		return notFoundOr(err, subscriber.ErrNotFound, "unsubscribing")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgGoodbye})
}

// Admin handlers

func (api *subscriptionApi) query(ctx echo.Context) error {
	filter := new(subscriber.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []subscriber.Subscriber{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying subscribers")
	}
	if subs == nil {
		subs = []subscriber.Subscriber{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *subscriptionApi) retrieve(ctx echo.Context) error {
	sub, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return notFoundOr(err, subscriber.ErrNotFound, "getting subscriber")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *subscriptionApi) destroy(ctx echo.Context) error {
	n, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "deleting subscriber")
	}
	if n == 0 {
		return errHttpNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *subscriptionApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	n, err := api.svc.Delete(ctx.Request().Context(), query.IDs...)
	if err != nil {
		return errors.Wrap(err, "deleting subscribers")
	}
	return ctx.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (api *subscriptionApi) resendByID(ctx echo.Context) error {
	sub, err := api.svc.ResendByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return notFoundOr(err, subscriber.ErrNotFound, "resending verification")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *subscriptionApi) exportCSV(ctx echo.Context) error {
	filter := new(subscriber.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return core.NewValidationError(errors.New("invalid filter"))
	}
	filter.Clean()

	var buf bytes.Buffer
	if err := api.svc.Export(ctx.Request().Context(), &buf, filter); err != nil {
		return errors.Wrap(err, "exporting subscribers")
	}
	return sendCSV(ctx, "subscribers.csv", &buf)
}

func (api *subscriptionApi) importCSV(ctx echo.Context) error {
	file, err := openUpload(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	res, err := api.svc.Import(ctx.Request().Context(), file)
	if err != nil {
		return errors.Wrap(err, "importing subscribers")
	}
	return ctx.JSON(http.StatusOK, res)
}

type SubscriptionResponse struct {
	Success  string `json:"success"`
	Channel  string `json:"channel"`
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}
