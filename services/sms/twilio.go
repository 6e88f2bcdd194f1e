package smssvc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/trezcool/kickoff/core"
)

type twilioService struct {
	client *twilio.RestClient
	from   string
}

var _ core.SMSService = (*twilioService)(nil)

func NewTwilioService() core.SMSService {
	return &twilioService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: core.Conf.SMS.TwilioAccountSID,
			Password: core.Conf.SMS.TwilioAuthToken,
		}),
		from: core.Conf.SMS.FromNumber,
	}
}

func (svc twilioService) Send(ctx context.Context, msg *core.SMSMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering sms")
	}
	if msg.To == "" || msg.Body == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(svc.from)
	params.SetBody(msg.Body)

	if _, err := svc.client.Api.CreateMessage(params); err != nil {
		return errors.Wrap(err, "calling twilio")
	}
	return nil
}
