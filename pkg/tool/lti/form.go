// pkg/tool/lti/form.go
package lti

import (
	"html/template"
	"net/http"
	"strings"
)

var autoSubmitForm = template.Must(template.New("form").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>LTI</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}"{{if .Target}} target="{{.Target}}"{{end}}>
{{range .Fields}}  <input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}  <noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

type formField struct{ Name, Value string }

// SendForm renders an HTML page that POSTs params to action as soon as it
// loads. Fields are written in name order.
func SendForm(action string, params Params, target string) (string, error) {
	fields := make([]formField, 0, len(params))
	for _, k := range params.Keys() {
		fields = append(fields, formField{Name: k, Value: params[k]})
	}
	var b strings.Builder
	err := autoSubmitForm.Execute(&b, struct {
		Action string
		Target string
		Fields []formField
	}{action, target, fields})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
