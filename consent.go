package oauth

import (
	"html/template"
	"net/http"

	"github.com/giantswarm/oauth2-kit/security"
)

// ConsentData feeds the consent page template.
type ConsentData struct {
	ClientID     string
	ClientName   string
	Scopes       []string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	ActionPath   string
}

// DeviceVerificationData feeds the device verification page template.
// Stage is one of "enter", "confirm", "approved", "denied".
type DeviceVerificationData struct {
	Stage      string
	UserCode   string
	ClientName string
	Scopes     []string
	ActionPath string
	Error      string
}

// errorPageData feeds the end-user error page.
type errorPageData struct {
	Code        string
	Description string
}

// consentPageTemplate is the built-in consent page. It is deliberately
// minimal: hosts with a real UI override it via Config.ConsentTemplate or
// serve their own page and call the server package's approval operations
// directly. The form posts back to the authorization endpoint with a
// decision field.
const consentPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Request</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: #f5f6f8; display: flex; justify-content: center; padding-top: 8vh; }
        .card { background: #fff; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.12);
                padding: 2rem; max-width: 420px; }
        h1 { font-size: 1.2rem; margin: 0 0 1rem; }
        ul { padding-left: 1.2rem; }
        .actions { margin-top: 1.5rem; display: flex; gap: .75rem; }
        button { padding: .5rem 1.25rem; border-radius: 4px; border: 1px solid #ccc;
                 background: #fff; cursor: pointer; }
        button.approve { background: #2468f2; border-color: #2468f2; color: #fff; }
    </style>
</head>
<body>
    <div class="card">
        <h1>{{.ClientName}} requests access</h1>
        {{if .Scopes}}<p>The application asks for:</p>
        <ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>
        {{else}}<p>The application asks for access to your account.</p>{{end}}
        <form method="post" action="{{.ActionPath}}">
            <input type="hidden" name="client_id" value="{{.ClientID}}">
            <input type="hidden" name="response_type" value="{{.ResponseType}}">
            <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
            <input type="hidden" name="scope" value="{{.Scope}}">
            <input type="hidden" name="state" value="{{.State}}">
            <div class="actions">
                <button class="approve" type="submit" name="decision" value="approve">Allow</button>
                <button type="submit" name="decision" value="deny">Deny</button>
            </div>
        </form>
    </div>
</body>
</html>`

// devicePageTemplate is the built-in device verification page: code entry,
// then confirmation, then the decision result.
const devicePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Device Authorization</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: #f5f6f8; display: flex; justify-content: center; padding-top: 8vh; }
        .card { background: #fff; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.12);
                padding: 2rem; max-width: 420px; }
        h1 { font-size: 1.2rem; margin: 0 0 1rem; }
        input[type=text] { font-size: 1.25rem; letter-spacing: .2em; text-transform: uppercase;
                           padding: .4rem; width: 100%; box-sizing: border-box; }
        .error { color: #c0392b; }
        .actions { margin-top: 1.5rem; display: flex; gap: .75rem; }
        button { padding: .5rem 1.25rem; border-radius: 4px; border: 1px solid #ccc;
                 background: #fff; cursor: pointer; }
        button.approve { background: #2468f2; border-color: #2468f2; color: #fff; }
    </style>
</head>
<body>
    <div class="card">
    {{if eq .Stage "enter"}}
        <h1>Connect a device</h1>
        {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
        <p>Enter the code shown on your device.</p>
        <form method="post" action="{{.ActionPath}}">
            <input type="text" name="user_code" value="{{.UserCode}}" autofocus>
            <div class="actions"><button class="approve" type="submit">Continue</button></div>
        </form>
    {{else if eq .Stage "confirm"}}
        <h1>{{.ClientName}} requests access</h1>
        {{if .Scopes}}<ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>{{end}}
        <p>Code: <strong>{{.UserCode}}</strong></p>
        <form method="post" action="{{.ActionPath}}">
            <input type="hidden" name="user_code" value="{{.UserCode}}">
            <div class="actions">
                <button class="approve" type="submit" name="decision" value="approve">Allow</button>
                <button type="submit" name="decision" value="deny">Deny</button>
            </div>
        </form>
    {{else if eq .Stage "approved"}}
        <h1>Device connected</h1>
        <p>You can return to your device. This window may be closed.</p>
    {{else}}
        <h1>Request denied</h1>
        <p>The device was not authorized. This window may be closed.</p>
    {{end}}
    </div>
</body>
</html>`

// errorPageTemplate renders end-user endpoint failures that must not be
// redirected (unknown client, bad redirect URI).
const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Error</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               background: #f5f6f8; display: flex; justify-content: center; padding-top: 8vh; }
        .card { background: #fff; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.12);
                padding: 2rem; max-width: 420px; }
        h1 { font-size: 1.2rem; margin: 0 0 1rem; color: #c0392b; }
        code { background: #f0f1f3; padding: .1rem .3rem; border-radius: 3px; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Authorization failed</h1>
        <p><code>{{.Code}}</code>{{if .Description}}: {{.Description}}{{end}}</p>
    </div>
</body>
</html>`

// parsePageTemplates builds the handler's page templates, falling back to
// the built-ins when a custom template does not parse.
func (h *Handler) parsePageTemplates() {
	h.consentTmpl = template.Must(template.New("consent").Parse(consentPageTemplate))
	h.deviceTmpl = template.Must(template.New("device").Parse(devicePageTemplate))
	h.errorTmpl = template.Must(template.New("error").Parse(errorPageTemplate))

	if h.config.ConsentTemplate != "" {
		tmpl, err := template.New("consent").Parse(h.config.ConsentTemplate)
		if err != nil {
			h.logger.Error("custom consent template does not parse, using built-in", "error", err)
		} else {
			h.consentTmpl = tmpl
		}
	}
	if h.config.DeviceTemplate != "" {
		tmpl, err := template.New("device").Parse(h.config.DeviceTemplate)
		if err != nil {
			h.logger.Error("custom device template does not parse, using built-in", "error", err)
		} else {
			h.deviceTmpl = tmpl
		}
	}
}

func (h *Handler) renderConsentPage(w http.ResponseWriter, data *ConsentData) {
	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.consentTmpl.Execute(w, data); err != nil {
		h.logger.Error("consent page render failed", "error", err)
	}
}

func (h *Handler) renderDevicePage(w http.ResponseWriter, data *DeviceVerificationData) {
	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.deviceTmpl.Execute(w, data); err != nil {
		h.logger.Error("device page render failed", "error", err)
	}
}

func (h *Handler) renderErrorPage(w http.ResponseWriter, oerr *Error) {
	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(oerr.Status)
	if err := h.errorTmpl.Execute(w, &errorPageData{Code: oerr.Code, Description: oerr.Description}); err != nil {
		h.logger.Error("error page render failed", "error", err)
	}
}
