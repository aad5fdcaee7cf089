// internal/lti/pages.go
package lti

import "html/template"

type setting struct{ Name, Value string }

type page struct {
	Tool     string
	Heading  string
	Platform string
	Course   string
	Resource string
	User     string
	Role     string
	// ReturnURL is the platform's launch_presentation_return_url.
	ReturnURL string

	Grades     bool
	SharedFrom string
	Settings   []setting
}

const layout = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>{{.Tool}}: {{.Heading}}</title>
    <style>
      body { font-family: system-ui, sans-serif; margin: 2rem; color: #212529; }
      h1 { font-size: 120%; }
      dt { font-weight: bold; margin-top: .5rem; }
      .note { color: #0c5460; background-color: #d1ecf1; border: 1px solid #bee5eb; padding: .75rem 1.25rem; }
      table { border-collapse: collapse; }
      td { border: 1px solid #dee2e6; padding: .25rem .5rem; }
    </style>
  </head>
  <body>
    <h1>{{.Heading}}{{if .User}}, {{.User}}{{end}}</h1>
{{end}}{{define "foot"}}{{if .ReturnURL}}    <p><a href="{{.ReturnURL}}">Return to {{if .Platform}}{{.Platform}}{{else}}the course{{end}}</a></p>
{{end}}  </body>
</html>
{{end}}{{define "where"}}    <dl>
{{if .Platform}}      <dt>Platform</dt><dd>{{.Platform}}</dd>
{{end}}{{if .Course}}      <dt>Course</dt><dd>{{.Course}}</dd>
{{end}}{{if .Resource}}      <dt>Resource</dt><dd>{{.Resource}}</dd>
{{end}}{{if .Role}}      <dt>Role</dt><dd>{{.Role}}</dd>
{{end}}    </dl>
{{end}}`

var (
	landingTemplate = template.Must(template.Must(template.New("landing").Parse(layout)).Parse(`{{template "head" .}}{{template "where" .}}{{if .SharedFrom}}    <p class="note">This resource shares its data with "{{.SharedFrom}}".</p>
{{end}}{{if .Grades}}    <p class="note">Your grade for this activity will be sent to {{if .Platform}}{{.Platform}}{{else}}the platform{{end}}.</p>
{{end}}{{template "foot" .}}`))

	dashboardTemplate = template.Must(template.Must(template.New("dashboard").Parse(layout)).Parse(`{{template "head" .}}{{template "where" .}}{{template "foot" .}}`))

	configureTemplate = template.Must(template.Must(template.New("configure").Parse(layout)).Parse(`{{template "head" .}}{{template "where" .}}{{if .Settings}}    <table>
{{range .Settings}}      <tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{end}}    </table>
{{else}}    <p>No settings have been recorded for this resource.</p>
{{end}}{{template "foot" .}}`))
)
