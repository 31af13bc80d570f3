package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Writer appends activity rows inside the caller's transaction so the
// audit entry commits or rolls back with the mutation that caused it.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

// Entry describes one audit record.
type Entry struct {
	Type        string
	Level       string
	Title       string
	Description string
	Metadata    Metadata
	VentureID   string
	TaskID      string
	AgentID     string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.Level == "" {
		e.Level = "info"
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var metadata any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO activities(id,type,level,title,description,metadata_json,venture_id,task_id,agent_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		uuid.New().String(), e.Type, e.Level, e.Title, nullable(e.Description), metadata,
		nullable(e.VentureID), nullable(e.TaskID), nullable(e.AgentID), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
