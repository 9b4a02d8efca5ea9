package metrics

// TaskStatus is the task-metrics lifecycle status (§3's TaskMetric,
// §4.6): Pending, Sent, Received, Running, Completed, Failed.
type TaskStatus int

const (
	Pending TaskStatus = iota
	Sent
	Received
	Running
	Completed
	Failed
)

func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Received:
		return "received"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskMetric is one ledger row, keyed by TaskID. Timestamps are
// caller-supplied int64 clock values (the manager passes Unix
// nanoseconds); zero means "not yet reached". TickBudget/TicksElapsed
// implement §D.3's per-task watchdog: a task whose TicksElapsed exceeds
// TickBudget before completion is failed on the next WatchdogTick call.
type TaskMetric struct {
	TaskID       string
	PeerID       string
	Status       TaskStatus
	Sent         int64
	Received     int64
	Started      int64
	Completed    int64
	TickBudget   int
	TicksElapsed int
}

// TotalTime is Completed-Sent, valid only once Status is Completed.
func (m TaskMetric) TotalTime() int64 { return m.Completed - m.Sent }

// ProcessingTime is Completed-Started.
func (m TaskMetric) ProcessingTime() int64 { return m.Completed - m.Started }

// StartupLatency is Started-Sent.
func (m TaskMetric) StartupLatency() int64 { return m.Started - m.Sent }

// TaskLedger is the manager's per-task metrics table. It is owned
// exclusively by the manager's single event-loop goroutine (§5), so its
// map and every TaskMetric in it are plain, unsynchronized state — unlike
// PathMetrics, nothing here crosses a goroutine boundary.
type TaskLedger struct {
	rows map[string]*TaskMetric
}

// NewTaskLedger returns an empty task-metrics ledger.
func NewTaskLedger() *TaskLedger {
	return &TaskLedger{rows: make(map[string]*TaskMetric)}
}

// Add records a freshly dispatched task, entering status Sent.
func (l *TaskLedger) Add(taskID, peerID string, sentTS int64, tickBudget int) {
	l.rows[taskID] = &TaskMetric{
		TaskID:     taskID,
		PeerID:     peerID,
		Status:     Sent,
		Sent:       sentTS,
		TickBudget: tickBudget,
	}
}

// UpdateReceived advances Sent -> Received.
func (l *TaskLedger) UpdateReceived(taskID string, ts int64) bool {
	row, ok := l.rows[taskID]
	if !ok || row.Status != Sent {
		return false
	}
	row.Status = Received
	row.Received = ts
	return true
}

// UpdateStarted advances Received -> Running (the manager calls it when
// it dispatches the task to an agent).
func (l *TaskLedger) UpdateStarted(taskID string, ts int64) bool {
	row, ok := l.rows[taskID]
	if !ok || row.Status != Received {
		return false
	}
	row.Status = Running
	row.Started = ts
	return true
}

// UpdateCompleted advances Running -> Completed. Terminal: the row is
// never mutated again.
func (l *TaskLedger) UpdateCompleted(taskID string, ts int64) bool {
	row, ok := l.rows[taskID]
	if !ok || row.Status != Running {
		return false
	}
	row.Status = Completed
	row.Completed = ts
	return true
}

// UpdateFailed marks a task Failed from any non-terminal status.
func (l *TaskLedger) UpdateFailed(taskID string, ts int64) bool {
	row, ok := l.rows[taskID]
	if !ok || row.Status == Completed || row.Status == Failed {
		return false
	}
	row.Status = Failed
	row.Completed = ts
	return true
}

// WatchdogTick advances every non-terminal row's tick counter by one and
// fails any row whose TickBudget is exceeded, per §D.3. It returns the
// task_ids newly failed this call.
func (l *TaskLedger) WatchdogTick(ts int64) []string {
	var failed []string
	for id, row := range l.rows {
		if row.Status == Completed || row.Status == Failed {
			continue
		}
		if row.TickBudget <= 0 {
			continue // unbudgeted task, never watchdog-failed
		}
		row.TicksElapsed++
		if row.TicksElapsed > row.TickBudget {
			row.Status = Failed
			row.Completed = ts
			failed = append(failed, id)
		}
	}
	return failed
}

// Get returns a copy of the row for taskID, if present.
func (l *TaskLedger) Get(taskID string) (TaskMetric, bool) {
	row, ok := l.rows[taskID]
	if !ok {
		return TaskMetric{}, false
	}
	return *row, true
}

// TaskStats is the §4.6 derived summary: the counts cover every status;
// the timing figures cover Completed tasks only.
type TaskStats struct {
	CountPending, CountSent, CountReceived, CountRunning, CountCompleted, CountFailed int

	AvgTotalTime, MinTotalTime, MaxTotalTime                 float64
	AvgProcessingTime, MinProcessingTime, MaxProcessingTime  float64
	AvgStartupLatency, MinStartupLatency, MaxStartupLatency  float64
}

// Stats computes counts for every status and avg/min/max timing stats
// across Completed rows.
func (l *TaskLedger) Stats() TaskStats {
	var st TaskStats
	var totalSum, procSum, startupSum float64
	first := true

	for _, row := range l.rows {
		switch row.Status {
		case Pending:
			st.CountPending++
		case Sent:
			st.CountSent++
		case Received:
			st.CountReceived++
		case Running:
			st.CountRunning++
		case Failed:
			st.CountFailed++
		case Completed:
			st.CountCompleted++
			total := float64(row.TotalTime())
			proc := float64(row.ProcessingTime())
			startup := float64(row.StartupLatency())

			totalSum += total
			procSum += proc
			startupSum += startup

			if first {
				st.MinTotalTime, st.MaxTotalTime = total, total
				st.MinProcessingTime, st.MaxProcessingTime = proc, proc
				st.MinStartupLatency, st.MaxStartupLatency = startup, startup
				first = false
				continue
			}
			if total < st.MinTotalTime {
				st.MinTotalTime = total
			}
			if total > st.MaxTotalTime {
				st.MaxTotalTime = total
			}
			if proc < st.MinProcessingTime {
				st.MinProcessingTime = proc
			}
			if proc > st.MaxProcessingTime {
				st.MaxProcessingTime = proc
			}
			if startup < st.MinStartupLatency {
				st.MinStartupLatency = startup
			}
			if startup > st.MaxStartupLatency {
				st.MaxStartupLatency = startup
			}
		}
	}

	if st.CountCompleted > 0 {
		n := float64(st.CountCompleted)
		st.AvgTotalTime = totalSum / n
		st.AvgProcessingTime = procSum / n
		st.AvgStartupLatency = startupSum / n
	}
	return st
}

// Rows returns every ledger row, for CSV export. Order is unspecified;
// callers that need deterministic output should sort by TaskID.
func (l *TaskLedger) Rows() []TaskMetric {
	out := make([]TaskMetric, 0, len(l.rows))
	for _, row := range l.rows {
		out = append(out, *row)
	}
	return out
}
