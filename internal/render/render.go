// Package render formats an exported provenance Document for the two
// system-provided VDF entries under every `F+` directory:
// `F.provenance.json` and `F.provenance.html`. A full HTML+SVG rendering
// pipeline is a separate downstream concern; this package provides a
// minimal renderer so the synthetic namespace has real content behind
// both entries rather than a stub.
package render

import (
	"bytes"
	"encoding/json"
	"html/template"
	"sort"

	"github.com/repeatfs/repeatfs/internal/store"
)

// JSON renders doc exactly as the Replicator/CLI would write it to disk:
// indented, byte-stable encoding/json marshaling.
func JSON(doc *store.Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// row is one line of the rendered provenance table: a file touched by a
// process, with the direction and timing of that touch.
type row struct {
	FilePath  string
	Host      string
	PID       int
	Cmd       string
	Direction string
	OpenTime  float64
	CloseTime float64
}

var pageTemplate = template.Must(template.New("provenance").Parse(`<!DOCTYPE html>
<html>
<head><title>Provenance</title></head>
<body>
<h1>Provenance</h1>
<table border="1" cellpadding="4">
<tr><th>File</th><th>Host</th><th>PID</th><th>Command</th><th>Direction</th><th>Open</th><th>Close</th></tr>
{{range .}}<tr><td>{{.FilePath}}</td><td>{{.Host}}</td><td>{{.PID}}</td><td>{{.Cmd}}</td><td>{{.Direction}}</td><td>{{.OpenTime}}</td><td>{{.CloseTime}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// HTML renders doc as a single table of every IO Interval in the
// document's closure, joined against its file and process records. Output
// is deterministic: rows are sorted by (open time, file path) so repeated
// renders of the same document byte-compare equal.
func HTML(doc *store.Document) ([]byte, error) {
	var rows []row

	for _, rec := range doc.Read {
		if r, ok := buildRow(doc, rec.FileID, rec.ProcessID, rec.OpenTime, rec.CloseTime, "read"); ok {
			rows = append(rows, r)
		}
	}
	for _, rec := range doc.Write {
		if r, ok := buildRow(doc, rec.FileID, rec.ProcessID, rec.OpenTime, rec.CloseTime, "write"); ok {
			rows = append(rows, r)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OpenTime != rows[j].OpenTime {
			return rows[i].OpenTime < rows[j].OpenTime
		}
		return rows[i].FilePath < rows[j].FilePath
	})

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildRow(doc *store.Document, fileID, processID string, openTime float64, closeTime *float64, direction string) (row, bool) {
	f, ok := doc.File[fileID]
	if !ok {
		return row{}, false
	}
	p, ok := doc.Process[processID]
	if !ok {
		return row{}, false
	}
	ct := openTime
	if closeTime != nil {
		ct = *closeTime
	}
	return row{
		FilePath:  f.Path,
		Host:      p.Host,
		PID:       p.PID,
		Cmd:       joinCmd(p.Cmd),
		Direction: direction,
		OpenTime:  openTime,
		CloseTime: ct,
	}, true
}

func joinCmd(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}
