package digest

const digestTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 640px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 24px; }
        h1 { color: #0b5394; margin-bottom: 5px; }
        h2 { color: #333; font-size: 18px; margin-top: 24px; border-bottom: 1px solid #eee; padding-bottom: 4px; }
        .date { color: #666; margin-bottom: 20px; }
        p, li { line-height: 1.5; color: #222; }
        hr { border: none; border-top: 1px solid #eee; }
        .footer { margin-top: 24px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
        .footer a { color: #0b5394; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Slot}} · {{.Date}}{{if .Theme}} · {{.Theme}}{{end}}</div>

        {{range .Blocks}}
        {{if eq .Kind "heading"}}<h2>{{.Text}}</h2>
        {{else if eq .Kind "list"}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>
        {{else if eq .Kind "rule"}}<hr>
        {{else}}<p>{{.Text}}</p>
        {{end}}
        {{end}}

        <div class="footer">
            Based on {{.ItemCount}} articles{{if .Sender}} · {{.Sender}}{{end}}<br>
            <a href="{{.PreferencesURL}}">Manage preferences</a> · <a href="{{.UnsubscribeURL}}">Unsubscribe</a>
        </div>
    </div>
</body>
</html>`

const alertTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Run failed</title></head>
<body style="font-family: monospace;">
    <h2>Run {{.RunID}} ({{.Slot}}) failed</h2>
    <p>Started {{.StartedAt}}, took {{.Duration}}.</p>
    <table border="1" cellpadding="4" cellspacing="0">
        <tr><th>Stage</th><th>Attempts</th><th>Error</th></tr>
        {{range .Failed}}<tr><td>{{.Name}}</td><td>{{.Attempts}}</td><td>{{.Error}}</td></tr>
        {{end}}
    </table>
    {{if .Skipped}}<p>Skipped: {{range $i, $s := .Skipped}}{{if $i}}, {{end}}{{$s}}{{end}}</p>{{end}}
</body>
</html>`
