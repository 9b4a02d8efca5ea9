package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/niceyeti/mapd/internal/managerloop"
)

// dashboardTemplate mirrors the teacher's server/server.go inline
// template.New("index") construction (a single hand-written HTML string
// parsed once at startup), generalized from a value-function heatmap to a
// peer/task status table.
var dashboardTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>mapd manager</title></head>
<body>
<h1>mapd manager</h1>
<p>pending tasks: {{.Pending}}</p>
<h2>tasks</h2>
<p>completed={{.TaskStats.CountCompleted}} running={{.TaskStats.CountRunning}}
   sent={{.TaskStats.CountSent}} received={{.TaskStats.CountReceived}} failed={{.TaskStats.CountFailed}}
   avg_total_time={{printf "%.1f" .TaskStats.AvgTotalTime}}</p>
<h2>path planning</h2>
<p>samples={{.PathStats.Count}} mean={{printf "%.1f" .PathStats.Mean}}us
   min={{printf "%.1f" .PathStats.Min}}us max={{printf "%.1f" .PathStats.Max}}us</p>
<h2>peers</h2>
<table border="1">
<tr><th>peer_id</th><th>phase</th><th>pos</th><th>goal</th><th>task_id</th></tr>
{{range .Peers}}<tr><td>{{.PeerID}}</td><td>{{.Phase}}</td><td>{{.Pos}}</td><td>{{.Goal}}</td><td>{{.TaskID}}</td></tr>
{{end}}
</table>
</body>
</html>
`))

// serveDashboard runs a gorilla/mux-routed HTTP status dashboard until ctx
// is cancelled, reading manager state only through mgr.Snapshot (never
// touching managerloop internals directly), per §5's single-writer rule.
func serveDashboard(ctx context.Context, addr string, mgr *managerloop.Manager) error {
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		snap, err := mgr.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := dashboardTemplate.Execute(w, snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/snapshot.json", func(w http.ResponseWriter, r *http.Request) {
		snap, err := mgr.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
