package core

import (
	"bytes"
	"context"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
	"github.com/vanng822/go-premailer/premailer"

	appfs "github.com/trezcool/kickoff/fs"
)

const emailTemplatesDir = "templates/email"

var (
	templates tmplCache
	tmplErr   error
	tmplInit  sync.Once
)

type (
	tmplCacheEntry struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}
	tmplCache map[string]*tmplCacheEntry // {name: entry}

	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		AppName         string
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently, failures are logged
		SendMessages(messages ...*EmailMessage)
		// Send renders and sends msg synchronously
		Send(ctx context.Context, msg *EmailMessage) error
	}
)

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		AppName:         Conf.AppName,
		FrontendBaseURL: Conf.FrontendBaseURL,
		Data:            m.TemplateData,
	}
}

func (m *EmailMessage) renderText(entry *tmplCacheEntry) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if entry == nil || entry.text == nil {
		return nil
	}

	var buff bytes.Buffer
	if err := entry.text.ExecuteTemplate(&buff, "base", m.getContextData()); err != nil {
		return errors.Wrap(err, "executing text template")
	}
	m.TextContent = strings.TrimSpace(buff.String())
	return nil
}

func (m *EmailMessage) renderHTML(entry *tmplCacheEntry) error {
	if entry == nil || entry.html == nil {
		return nil
	}

	var buff bytes.Buffer
	if err := entry.html.ExecuteTemplate(&buff, "base", m.getContextData()); err != nil {
		return errors.Wrap(err, "executing html template")
	}

	// mail clients ignore <style> blocks, inline them
	prem, err := premailer.NewPremailerFromString(buff.String(), premailer.NewOptions())
	if err != nil {
		return errors.Wrap(err, "parsing html")
	}
	html, err := prem.Transform()
	if err != nil {
		return errors.Wrap(err, "inlining css")
	}
	m.HTMLContent = html
	return nil
}

// Render fills TextContent and HTMLContent from BodyStr or the message template.
func (m *EmailMessage) Render() error {
	var entry *tmplCacheEntry
	if m.TemplateName != "" {
		tmplInit.Do(func() { templates, tmplErr = parseTemplates(appfs.FS) }) // only execute once during first render
		if tmplErr != nil {
			return errors.Wrap(tmplErr, "parsing email templates")
		}
		var ok bool
		if entry, ok = templates[m.TemplateName]; !ok {
			return errors.Errorf("email template %q not found", m.TemplateName)
		}
	}
	if err := m.renderText(entry); err != nil {
		return err
	}
	return m.renderHTML(entry)
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }

func parseTemplates(fsys fs.FS) (tmplCache, error) {
	cache := make(tmplCache)

	fps, err := fs.Glob(fsys, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		return nil, err
	}

	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry, ok := cache[name]
		if !ok {
			entry = new(tmplCacheEntry)
			cache[name] = entry
		}
		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(fsys, path.Join(emailTemplatesDir, "_base.txt"), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			entry.text = tmpl.Option("missingkey=error")
		} else {
			tmpl, err := htmltmpl.ParseFS(fsys, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			entry.html = tmpl.Option("missingkey=error")
		}
	}
	return cache, nil
}
