package notifications

import (
	"strings"
	"text/template"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// templateFuncs returns the functions available to message templates
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDate": formatDate,
		"join":       strings.Join,
		"pluralize":  pluralize,
	}
}

// formatDate renders a YYYY-MM-DD voting date for humans, or returns it unchanged if malformed
func formatDate(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday 2 January 2006")
}

func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

const messageTemplates = `
{{define "proxy_matched.subject"}}New procuration request{{if gt (len .Requests) 1}}s{{end}} for you{{end}}
{{define "proxy_matched.body"}}Hello {{.Proxy.FirstName}},

A voter near you needs someone to vote on their behalf on the following {{pluralize (len .Requests) "date" "dates"}}:
{{range .Requests}}
  - {{formatDate .VotingDate}}{{if .PollingStation}} (polling station {{.PollingStation}}){{end}}{{end}}

Requester: {{.Requester.FirstName}} <{{.Requester.Email}}>{{if .Requester.Phone}}, {{.Requester.Phone}}{{end}}

Please get in touch with them, then accept or decline the request.
Request references: {{join .RequestIDs ", "}}
{{end}}

{{define "requester_declined.subject"}}Your proxy is no longer available{{end}}
{{define "requester_declined.body"}}Hello {{.Requester.FirstName}},

The volunteer who agreed to vote on your behalf is no longer available on:
{{range .Requests}}
  - {{formatDate .VotingDate}}{{end}}

Your {{pluralize (len .Requests) "request is" "requests are"}} back in the queue and we will look for another volunteer.
{{end}}

{{define "candidate_invited.subject"}}A voter near you needs a proxy{{end}}
{{define "candidate_invited.body"}}Hello {{.Candidate.FirstName}},

A voter close to you cannot go to their polling station on {{range $i, $d := .Dates}}{{if $i}}, {{end}}{{formatDate $d}}{{end}}.
Would you agree to vote on their behalf? Sign up as a proxy and we will put you in touch.
{{end}}

{{define "proxy_cancelled.subject"}}A procuration was cancelled{{end}}
{{define "proxy_cancelled.body"}}Hello {{.Proxy.FirstName}},

{{.Requester.FirstName}} cancelled their request for {{range $i, $r := .Requests}}{{if $i}}, {{end}}{{formatDate $r.VotingDate}}{{end}}.
You no longer need to vote on their behalf on {{pluralize (len .Requests) "this date" "these dates"}}.
{{end}}

{{define "requester_accepted.subject"}}A volunteer will vote on your behalf{{end}}
{{define "requester_accepted.body"}}Hello {{.Requester.FirstName}},

{{.Proxy.FirstName}} agreed to vote on your behalf on:
{{range .Requests}}
  - {{formatDate .VotingDate}}{{end}}

Contact: {{.Proxy.Email}}{{if .Proxy.Phone}}, {{.Proxy.Phone}}{{end}}
Please confirm once the procuration has been registered.
{{end}}
`

func parseTemplates() (*template.Template, error) {
	return template.New("messages").Funcs(templateFuncs()).Parse(messageTemplates)
}
