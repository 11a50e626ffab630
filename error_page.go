package authcore

import (
	"html/template"
	"net/http"
	"strings"
)

// handleOK is the liveness probe for the mounted handler.
func (e *Engine) handleOK(rc *RequestContext) (*Response, error) {
	return JSONResponse(map[string]bool{"ok": true}), nil
}

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.AppName}} - Error</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#fafafa;color:#1a1a1a}
main{max-width:28rem;padding:2rem;text-align:center}
h1{font-size:1.25rem;margin-bottom:.5rem}
code{background:#eee;padding:.15rem .4rem;border-radius:4px}
p{color:#555}
</style>
</head>
<body>
<main>
<h1>Authentication error</h1>
{{if .Code}}<p><code>{{.Code}}</code></p>{{end}}
<p>{{.Description}}</p>
</main>
</body>
</html>
`))

// handleErrorPage renders the browser-facing error page for OAuth failures
// the user navigates into. Query values pass through html/template, so
// provider-controlled text cannot inject markup.
func (e *Engine) handleErrorPage(rc *RequestContext) (*Response, error) {
	code := rc.Query.Get("error")
	description := rc.Query.Get("error_description")
	if description == "" {
		description = "Something went wrong during authentication. Please try again."
	}

	appName := e.cfg.AppName
	if appName == "" {
		appName = "Authentication"
	}

	var buf strings.Builder
	err := errorPageTemplate.Execute(&buf, struct {
		AppName     string
		Code        string
		Description string
	}{AppName: appName, Code: code, Description: description})
	if err != nil {
		return nil, ErrInternal("internal server error")
	}

	return &Response{Status: http.StatusOK, Body: htmlBody(buf.String())}, nil
}
