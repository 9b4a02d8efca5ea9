package metrics

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// WriteTaskCSV writes one row per task to w, per §6's task-metrics export
// format: task_id, peer_id, status, sent, received, started, completed,
// total_time, processing_time, startup_latency. Rows are sorted by task_id
// for deterministic output.
func WriteTaskCSV(w io.Writer, rows []TaskMetric) error {
	sort.Slice(rows, func(i, j int) bool { return rows[i].TaskID < rows[j].TaskID })

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"task_id", "peer_id", "status",
		"sent", "received", "started", "completed",
		"total_time", "processing_time", "startup_latency",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.TaskID,
			row.PeerID,
			row.Status.String(),
			strconv.FormatInt(row.Sent, 10),
			strconv.FormatInt(row.Received, 10),
			strconv.FormatInt(row.Started, 10),
			strconv.FormatInt(row.Completed, 10),
		}
		if row.Status == Completed {
			record = append(record,
				strconv.FormatInt(row.TotalTime(), 10),
				strconv.FormatInt(row.ProcessingTime(), 10),
				strconv.FormatInt(row.StartupLatency(), 10),
			)
		} else {
			record = append(record, "", "", "")
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WritePathCSV writes one row per planning-duration sample, per §4.6:
// sample_index,duration_micros,duration_millis.
func WritePathCSV(w io.Writer, samples []int64) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"sample_index", "duration_micros", "duration_millis"}); err != nil {
		return err
	}
	for i, micros := range samples {
		record := []string{
			strconv.Itoa(i),
			strconv.FormatInt(micros, 10),
			strconv.FormatFloat(float64(micros)/1000.0, 'f', 3, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return cw.Error()
}

// Samples exposes the raw recorded samples for CSV export. Safe for
// concurrent use with Record (the slice is read under the same lock used
// to append to it), but the returned slice is a snapshot, not a live view.
func (p *PathMetrics) Samples() []int64 {
	p.mu.lock()
	defer p.mu.unlock()
	out := make([]int64, len(p.samples))
	copy(out, p.samples)
	return out
}
