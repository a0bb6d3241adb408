package web

const pageTemplates = `
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 520px; margin: 48px auto; padding: 0 16px; color: #222; }
h1 { font-size: 22px; }
.notice { background: #eef7ee; border: 1px solid #cfe6cf; padding: 8px 12px; border-radius: 4px; }
label { display: block; margin: 12px 0; }
button { padding: 8px 16px; }
.muted { color: #777; font-size: 13px; }
</style>
</head>
<body>
{{end}}

{{define "foot"}}</body>
</html>
{{end}}

{{define "preferences"}}{{template "head" "Digest preferences"}}
<h1>Digest preferences</h1>
<p class="muted">{{.Email}}</p>
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
<form method="post" action="/preferences">
<input type="hidden" name="email" value="{{.Email}}">
<input type="hidden" name="token" value="{{.Token}}">
<label><input type="checkbox" name="subscribed" value="on"{{if .Subscribed}} checked{{end}}> Send me the digest</label>
<label>Delivery
<select name="slot">
{{- $current := .Slot}}
{{- range .Slots}}
<option value="{{.}}"{{if eq . $current}} selected{{end}}>{{.}}</option>
{{- end}}
</select>
</label>
<button type="submit">Save</button>
</form>
{{template "foot"}}{{end}}

{{define "unsubscribe"}}{{template "head" "Unsubscribe"}}
<h1>Unsubscribe</h1>
<p>Stop sending the digest to <strong>{{.Email}}</strong>?</p>
<form method="post" action="/unsubscribe">
<input type="hidden" name="email" value="{{.Email}}">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit">Unsubscribe</button>
</form>
{{template "foot"}}{{end}}

{{define "unsubscribed"}}{{template "head" "Unsubscribed"}}
<h1>You are unsubscribed</h1>
<p>{{.Email}} will no longer receive the digest.</p>
<form method="post" action="/preferences">
<input type="hidden" name="email" value="{{.Email}}">
<input type="hidden" name="token" value="{{.Token}}">
<input type="hidden" name="subscribed" value="on">
<input type="hidden" name="slot" value="{{.Slot}}">
<button type="submit">Subscribe again</button>
</form>
{{template "foot"}}{{end}}
`
