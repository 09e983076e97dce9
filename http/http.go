package http

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chzchzchz/duocap/capture"
	"github.com/chzchzchz/duocap/logging"
)

// Status is the view of a running session the status page renders.
type Status interface {
	ID() string
	State() capture.State
	Plan() capture.Plan
	Stats() capture.Stats
}

type httpHandler struct {
	st         Status
	metrics    http.Handler
	statusTmpl *template.Template
}

const statusTmplStr = `<!DOCTYPE html>
<html>
<head>
<title>duocap</title>
<style>
table, th, td {
  border: 1px solid black;
  text-align: right;
}
</style>
</head>
<body>
<h1>duocap session {{.ID}}</h1>
<hr/>

<h2>Capture &#x1F4FB;</h2>
<ul>
<li>State: {{.State}}</li>
<li>Transfer unit: {{.Plan.TransferUnit}} bytes</li>
{{if .Plan.Budget}}<li>Budget: {{.Plan.Budget}} bytes</li>{{end}}
<li>Mode: {{if .Plan.Sync}}sync{{else}}async{{end}}</li>
</ul>

{{$length := len .Plan.Channels}} {{if gt $length 0}}
<h2>Channels</h2>
<table>
<tr><th>Channel</th><th>Frequency Hz</th><th>Block bytes</th><th>Blocks</th></tr>
{{range $_, $c := .Plan.Channels}}
<tr>
<td>{{$c.ID}}</td>
<td>{{$c.FrequencyHz}}</td>
<td>{{$c.BlockBytes}}</td>
<td>{{index $.Stats.Blocks $c.ID}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>Single frequency: {{.Plan.InitialHz}} Hz</p>
{{end}}

<h2>Counters</h2>
<ul>
<li>Bytes written: {{.Stats.BytesWritten}}</li>
<li>Chunks: {{.Stats.Chunks}}</li>
<li>Retunes: {{.Stats.Retunes}} of {{.Stats.RetuneRequests}} requested</li>
</ul>

<p><a href="metrics">metrics</a> <a href="status.json">json</a></p>
</body>
</html>
`

type statusInfo struct {
	ID    string        `json:"id"`
	State string        `json:"state"`
	Plan  capture.Plan  `json:"plan"`
	Stats capture.Stats `json:"stats"`
}

func snapshot(st Status) statusInfo {
	return statusInfo{ID: st.ID(), State: st.State().String(), Plan: st.Plan(), Stats: st.Stats()}
}

// NewHandler serves the status page at /, JSON at /status.json and the
// prometheus registry at /metrics.
func NewHandler(st Status, g prometheus.Gatherer) http.Handler {
	return &httpHandler{
		st:         st,
		metrics:    promhttp.HandlerFor(g, promhttp.HandlerOpts{}),
		statusTmpl: template.Must(template.New("status").Parse(statusTmplStr)),
	}
}

// ServeHttp listens on serv until ctx is done.
func ServeHttp(ctx context.Context, st Status, g prometheus.Gatherer, serv string) error {
	srv := &http.Server{
		Addr:              serv,
		Handler:           NewHandler(st, g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	logging.Info("serving status", logging.Fields{logging.FieldAddr: serv})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		switch path.Base(r.URL.Path) {
		case "metrics":
			h.metrics.ServeHTTP(w, r)
		case "status.json":
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(snapshot(h.st)); err != nil {
				io.WriteString(w, err.Error())
			}
		default:
			if err := h.statusTmpl.Execute(w, snapshot(h.st)); err != nil {
				io.WriteString(w, err.Error())
			}
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
