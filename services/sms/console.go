package smssvc

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

type consoleService struct {
	from          string
	disableOutput bool
}

var _ core.SMSService = (*consoleService)(nil)

func NewConsoleService() core.SMSService {
	return &consoleService{from: core.Conf.SMS.FromNumber}
}

func (svc consoleService) Send(_ context.Context, msg *core.SMSMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering sms")
	}
	if msg.To == "" || msg.Body == "" {
		return nil
	}
	if !svc.disableOutput {
		log.Printf("SMS from %s to %s:\n%s\n", svc.from, msg.To, msg.Body)
	}
	return nil
}

// ConsoleServiceMock renders messages and records them instead of printing.
type ConsoleServiceMock struct {
	consoleService

	mu   sync.Mutex
	sent []core.SMSMessage
	err  error
}

var _ core.SMSService = (*ConsoleServiceMock)(nil)

func NewConsoleServiceMock() *ConsoleServiceMock {
	return &ConsoleServiceMock{consoleService: consoleService{disableOutput: true}}
}

func (svc *ConsoleServiceMock) Send(ctx context.Context, msg *core.SMSMessage) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.err != nil {
		return svc.err
	}
	if err := svc.consoleService.Send(ctx, msg); err != nil {
		return err
	}
	if msg.To != "" && msg.Body != "" {
		svc.sent = append(svc.sent, *msg)
	}
	return nil
}

// SentMessages returns a copy of the messages sent so far.
func (svc *ConsoleServiceMock) SentMessages() []core.SMSMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.SMSMessage(nil), svc.sent...)
}

// FailWith makes the following sends return err; nil restores normal behaviour.
func (svc *ConsoleServiceMock) FailWith(err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.err = err
}

func (svc *ConsoleServiceMock) Reset() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sent = nil
	svc.err = nil
}
