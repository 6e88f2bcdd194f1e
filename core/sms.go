package core

import (
	"bytes"
	"context"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appfs "github.com/trezcool/kickoff/fs"
)

const smsTemplatesFile = "templates/sms.yaml"

var (
	smsTemplates    map[string]*texttmpl.Template
	smsTemplatesErr error
	smsTmplInit     sync.Once
)

type (
	SMSMessage struct {
		To   string // E.164
		Body string

		TemplateName string
		TemplateData interface{}
	}

	// SMSService is any service that can send text messages
	SMSService interface {
		Send(ctx context.Context, msg *SMSMessage) error
	}
)

// Render fills Body from the message template, if any.
func (m *SMSMessage) Render() error {
	if m.TemplateName == "" {
		return nil
	}
	smsTmplInit.Do(func() { smsTemplates, smsTemplatesErr = loadSMSTemplates() })
	if smsTemplatesErr != nil {
		return errors.Wrap(smsTemplatesErr, "loading sms templates")
	}

	tmpl, ok := smsTemplates[m.TemplateName]
	if !ok {
		return errors.Errorf("sms template %q not found", m.TemplateName)
	}
	var buff bytes.Buffer
	data := ContextData{AppName: Conf.AppName, FrontendBaseURL: Conf.FrontendBaseURL, Data: m.TemplateData}
	if err := tmpl.Execute(&buff, data); err != nil {
		return errors.Wrap(err, "executing sms template")
	}
	m.Body = strings.TrimSpace(buff.String())
	return nil
}

func loadSMSTemplates() (map[string]*texttmpl.Template, error) {
	raw, err := appfs.FS.ReadFile(smsTemplatesFile)
	if err != nil {
		return nil, err
	}
	var sources map[string]string
	if err := yaml.Unmarshal(raw, &sources); err != nil {
		return nil, errors.Wrap(err, "decoding "+smsTemplatesFile)
	}

	tmpls := make(map[string]*texttmpl.Template, len(sources))
	for name, src := range sources {
		tmpl, err := texttmpl.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing sms template %q", name)
		}
		tmpls[name] = tmpl
	}
	return tmpls, nil
}
