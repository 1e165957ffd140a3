package assist

import (
	"context"
	"regexp"
	"strings"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/tools"
)

const helperMaxTokens = 2048

// Assistant generates briefings and reply drafts with one model call each.
type Assistant struct {
	model llm.Completer
	cfg   *config.Live
	meter *Meter
}

var (
	_ tools.Briefer = (*Assistant)(nil)
	_ tools.Drafter = (*Assistant)(nil)
)

// New creates an Assistant.
func New(model llm.Completer, cfg *config.Live, meter *Meter) *Assistant {
	return &Assistant{model: model, cfg: cfg, meter: meter}
}

// complete runs a single-turn call and charges it to the ledger.
func (a *Assistant) complete(ctx context.Context, model, operation, sessionID, system, user string) (string, error) {
	resp, err := a.model.Complete(ctx, llm.Request{
		Model:     model,
		MaxTokens: helperMaxTokens,
		System:    system,
		Messages:  []llm.Message{llm.UserText(user)},
	})
	if err != nil {
		a.meter.Failed(model)
		return "", &internal.ModelError{Model: model, Err: err}
	}
	if _, err := a.meter.Charge(ctx, resp.Model, operation, sessionID, resp.Usage); err != nil {
		return "", err
	}
	return resp.Text(), nil
}

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*\\n?")
	fenceClose = regexp.MustCompile("\\n?```\\s*$")
)

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
	}
	return text
}

// identity is "<full name>, <role> of <company>.[ description]".
func identity(u config.UserConfig) string {
	s := u.FullName + ", " + u.Role + " of " + u.Company + "."
	if u.CompanyDescription != "" {
		s += " " + u.CompanyDescription
	}
	return s
}
