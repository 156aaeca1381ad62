package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends run events inside a caller-owned transaction.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, runID, kind string, step int, payload any) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	var data any
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		data = string(raw)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO events(run_id,ts,kind,step,payload_json) VALUES (?,?,?,?,?)`,
		runID, ts, kind, step, data)
	return err
}
