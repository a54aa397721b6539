// Package texttemplates bundles a deterministic TextComposer provider
// backed by Go text/template, together with the module that attaches it
// to tenants at runtime.
package texttemplates

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/GoCodeAlone/dispatch"
)

// DefaultProviderName is used when the module config does not name the
// provider instance.
const DefaultProviderName = "templates_v1"

// ComposerConfig configures a TemplateComposer: template source text by
// template key.
type ComposerConfig struct {
	Templates map[string]string
}

// TemplateComposer is a deterministic TextComposer provider. Templates
// are parsed eagerly at construction; missing variables fail the render
// (missingkey=error), mirroring strict template semantics. No external
// IO, safe for core usage through the registry.
type TemplateComposer struct {
	providerName string
	templates    map[string]*template.Template
}

// NewTemplateComposer parses the configured templates. A syntactically
// invalid template fails construction.
func NewTemplateComposer(cfg ComposerConfig, providerName string) (*TemplateComposer, error) {
	if providerName == "" {
		providerName = DefaultProviderName
	}

	parsed := make(map[string]*template.Template, len(cfg.Templates))
	for key, src := range cfg.Templates {
		tmpl, err := template.New(key).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parsing template %q: %w", key, err)
		}
		parsed[key] = tmpl
	}

	return &TemplateComposer{
		providerName: providerName,
		templates:    parsed,
	}, nil
}

// ProviderName returns the name this provider registers under.
func (c *TemplateComposer) ProviderName() string { return c.providerName }

// Compose implements dispatch.TextComposer.
func (c *TemplateComposer) Compose(_ context.Context, call dispatch.ServiceCall, in dispatch.TextComposeIn) (*dispatch.ServiceResult, error) {
	started := dispatch.NowMillis()
	meta := dispatch.ResultMeta{
		RequestID:      call.RequestID,
		TenantID:       call.TenantID,
		TraceID:        call.TraceID,
		StartedAt:      started,
		ProviderName:   c.providerName,
		Attempt:        1,
		IdempotencyKey: call.IdempotencyKey,
		Tags:           call.Tags,
	}

	tmpl, ok := c.templates[in.TemplateKey]
	if !ok {
		meta.FinishedAt = dispatch.NowMillis()
		return dispatch.ErrorResult(meta, dispatch.ErrorInfo{
			Code:      dispatch.ErrorCodeTemplateNotFound,
			Message:   fmt.Sprintf("Template %q not found", in.TemplateKey),
			Retryable: false,
		}), nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in.Variables); err != nil {
		meta.FinishedAt = dispatch.NowMillis()
		return dispatch.ErrorResult(meta, dispatch.ErrorInfo{
			Code:      dispatch.ErrorCodeRenderFailed,
			Message:   err.Error(),
			Retryable: false,
		}), nil
	}

	meta.FinishedAt = dispatch.NowMillis()
	return dispatch.OKResult(meta, dispatch.TextComposeOut{
		Text:   buf.String(),
		Format: "plain",
	}), nil
}
