package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// JournalEntryType is the kind of a journal entry.
type JournalEntryType string

const (
	JournalSubmitted JournalEntryType = "submitted"
	JournalAttempt   JournalEntryType = "attempt"
	JournalRetry     JournalEntryType = "retry"
	JournalFinished  JournalEntryType = "finished"
)

// JournalEntry is one recorded lifecycle event of a task.
type JournalEntry struct {
	ID      int64
	TaskID  string
	Task    string
	Type    JournalEntryType
	Attempt int
	At      time.Time
	Detail  string
}

// Journal is an append-only task history table.
type Journal struct {
	db      *sql.DB
	dialect Dialect
}

// NewJournal creates the journal table if needed.
func NewJournal(ctx context.Context, db *sql.DB, dialect Dialect) (*Journal, error) {
	j := &Journal{db: db, dialect: dialect}
	if err := j.initSchema(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if j.dialect == DialectPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	if _, err := j.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS task_journal (
			id %s,
			task_id TEXT NOT NULL,
			task_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			at BIGINT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`, id)); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_task_journal_task_id ON task_journal(task_id, id)`)
	return err
}

// Append stores e. A zero At is replaced by the current time.
func (j *Journal) Append(ctx context.Context, e JournalEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	p := j.dialect.placeholder
	_, err := j.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO task_journal (task_id, task_name, type, attempt, at, detail)
		VALUES (%s, %s, %s, %s, %s, %s)`, p(1), p(2), p(3), p(4), p(5), p(6)),
		e.TaskID,
		e.Task,
		string(e.Type),
		e.Attempt,
		at.UnixNano(),
		e.Detail,
	)
	return err
}

// List returns the entries of a task in insertion order.
func (j *Journal) List(ctx context.Context, taskID string) ([]JournalEntry, error) {
	return j.query(ctx, fmt.Sprintf(`
		SELECT id, task_id, task_name, type, attempt, at, detail
		FROM task_journal
		WHERE task_id = %s
		ORDER BY id`, j.dialect.placeholder(1)),
		taskID,
	)
}

// Recent returns up to limit of the newest entries across all tasks, oldest
// first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	return j.query(ctx, fmt.Sprintf(`
		SELECT id, task_id, task_name, type, attempt, at, detail FROM (
			SELECT id, task_id, task_name, type, attempt, at, detail
			FROM task_journal
			ORDER BY id DESC
			LIMIT %s
		) recent
		ORDER BY id`, j.dialect.placeholder(1)),
		limit,
	)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e  JournalEntry
			at int64
			tp string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Task, &tp, &e.Attempt, &at, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = JournalEntryType(tp)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Observer returns an api.Observer that records every lifecycle callback.
// Write failures are logged and never affect the task.
func (j *Journal) Observer(logger *slog.Logger) api.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &journalObserver{journal: j, logger: logger}
}

type journalObserver struct {
	journal *Journal
	logger  *slog.Logger
}

var _ api.Observer = (*journalObserver)(nil)

func (o *journalObserver) record(ctx context.Context, info api.TaskInfo, typ JournalEntryType, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	werr := o.journal.Append(ctx, JournalEntry{
		TaskID:  info.ID,
		Task:    info.Name,
		Type:    typ,
		Attempt: info.Attempt(),
		Detail:  detail,
	})
	if werr != nil && !errors.Is(werr, context.Canceled) {
		o.logger.WarnContext(ctx, "journal_write_failed",
			slog.String("task_id", info.ID),
			slog.String("type", string(typ)),
			slog.Any("error", werr),
		)
	}
}

func (o *journalObserver) OnTaskSubmitted(ctx context.Context, info api.TaskInfo) {
	o.record(ctx, info, JournalSubmitted, nil)
}

func (o *journalObserver) OnTaskAttempt(ctx context.Context, info api.TaskInfo, err error, d time.Duration) {
	o.record(ctx, info, JournalAttempt, err)
}

func (o *journalObserver) OnTaskRetry(ctx context.Context, info api.TaskInfo, err error, next time.Time) {
	o.record(ctx, info, JournalRetry, err)
}

func (o *journalObserver) OnTaskFinished(ctx context.Context, info api.TaskInfo, err error) {
	o.record(ctx, info, JournalFinished, err)
}
