// pkg/report/report.go - removal run records for external monitoring tools

package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/result"
)

// FileName is the report written into the session log directory.
const FileName = "report.json"

// ItemRecord is one finished removal.
type ItemRecord struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	DetectedVia string `json:"detected_via"`
	Status      string `json:"status"`
	FinishedAt  string `json:"finished_at"`
}

// SessionRecord summarizes one removal run.
type SessionRecord struct {
	SessionID string       `json:"session_id"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time,omitempty"`
	Status    string       `json:"status"`
	Message   string       `json:"message,omitempty"`
	Removed   int          `json:"removed"`
	Deferred  int          `json:"deferred"`
	Failed    int          `json:"failed"`
	Cancelled int          `json:"cancelled"`
	Hostname  string       `json:"hostname"`
	User      string       `json:"user"`
	ProcessID int          `json:"process_id"`
	Items     []ItemRecord `json:"items"`
}

// Recorder collects removal notifications and writes them as a SessionRecord
// when the batch finishes. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	now     func() time.Time
	session SessionRecord
}

// NewRecorder creates a Recorder writing into dir. An empty dir disables writing.
func NewRecorder(dir, sessionID string) *Recorder {
	host, _ := os.Hostname()
	r := &Recorder{dir: dir, now: time.Now}
	r.session = SessionRecord{
		SessionID: sessionID,
		StartTime: r.now().Format(time.RFC3339),
		Hostname:  host,
		User:      os.Getenv("USERNAME"),
		ProcessID: os.Getpid(),
		Items:     []ItemRecord{},
	}
	return r
}

// ItemFinished records the final status of one item.
func (r *Recorder) ItemFinished(item catalog.Item, status result.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session.Items = append(r.session.Items, ItemRecord{
		ItemID:      item.ID,
		Name:        item.DisplayName(),
		Kind:        item.Kind().String(),
		DetectedVia: item.DetectedVia.String(),
		Status:      status.String(),
		FinishedAt:  r.now().Format(time.RFC3339),
	})
	switch status {
	case result.StatusSuccess:
		r.session.Removed++
	case result.StatusDeferred:
		r.session.Deferred++
	case result.StatusCancelled:
		r.session.Cancelled++
	default:
		r.session.Failed++
	}
}

// BatchFinished closes the session and writes the report.
func (r *Recorder) BatchFinished(res result.Result[int]) {
	r.mu.Lock()
	r.session.EndTime = r.now().Format(time.RFC3339)
	r.session.Status = res.Status.String()
	r.session.Message = res.Message
	snapshot := r.snapshot()
	r.mu.Unlock()

	if r.dir == "" {
		return
	}
	path := filepath.Join(r.dir, FileName)
	if err := writeJSONFile(path, snapshot); err != nil {
		logging.Warn("Failed to write removal report", "path", path, "error", err)
		return
	}
	logging.Debug("Removal report written", "path", path)
}

// Session returns a copy of the current record.
func (r *Recorder) Session() SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Recorder) snapshot() SessionRecord {
	s := r.session
	s.Items = append([]ItemRecord(nil), r.session.Items...)
	return s
}

func writeJSONFile(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating report directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
