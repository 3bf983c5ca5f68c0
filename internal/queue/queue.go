// Package queue implements the durable work queue: an append-only inbound
// log of requests, an append-only outbound log of results, a persisted byte
// cursor into the inbound log and a persisted id counter. All files live in
// one directory and are plain text.
package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	errwrap "github.com/lnagent/lnagent/internal/errors"
	"github.com/lnagent/lnagent/internal/observability"
)

// File names inside the queue directory.
const (
	InboxFile   = "inbox.jsonl"
	OutboxFile  = "outbox.jsonl"
	CursorFile  = "inbox.offset"
	CounterFile = "msg.counter"
	LockFile    = "agent.lock"
)

const lastResultWindow = 8 * 1024

// Entry is one inbound request. Entries are immutable once written.
type Entry struct {
	ID         uint64         `json:"id"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Payload    []byte         `json:"payload,omitempty"`
	Kind       string         `json:"kind"`
	Args       map[string]any `json:"args"`
}

// Result is one outbound record. A request may have zero or more results.
type Result struct {
	RequestID  uint64         `json:"request_id"`
	ProducedAt time.Time      `json:"produced_at"`
	Content    string         `json:"content"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Pending is an entry read past the cursor but not yet committed. Next is the
// byte offset just past the entry's line; committing it acknowledges the
// entry and every line before it.
type Pending struct {
	Entry *Entry
	Next  int64
}

// Queue owns the files of one queue directory.
type Queue struct {
	dir   string
	clock func() time.Time

	mu sync.Mutex
	// malformedMark is the offset past the last malformed line already
	// reported, so re-reads of uncommitted ranges do not report twice.
	malformedMark int64
	malformed     int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for enqueue and result stamps.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		q.clock = clock
	}
}

// Open prepares dir for use, creating the directory and the four queue files
// when missing.
func Open(dir string, opts ...Option) (*Queue, error) {
	if dir == "" {
		return nil, errwrap.New(errwrap.KindQueueIO, "queue.open", "queue directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.open", err, "create queue directory")
	}
	for _, name := range []string{InboxFile, OutboxFile, CursorFile, CounterFile} {
		f, err := os.OpenFile(joinPath(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.open", err, "create "+name)
		}
		_ = f.Close()
	}

	q := &Queue{dir: dir}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Dir returns the queue directory.
func (q *Queue) Dir() string {
	return q.dir
}

// Path returns the location of one of the queue files.
func (q *Queue) Path(name string) string {
	return joinPath(q.dir, name)
}

// Enqueue assigns the next id and durably appends a new entry.
func (q *Queue) Enqueue(payload []byte, kind string, args map[string]any) (*Entry, error) {
	if kind == "" {
		return nil, errwrap.New(errwrap.KindInvalidRequest, "queue.enqueue", "operation kind is required")
	}
	if args == nil {
		args = map[string]any{}
	}

	id, err := q.nextID()
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:         id,
		EnqueuedAt: q.now(),
		Payload:    payload,
		Kind:       kind,
		Args:       args,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, errwrap.Wrap(errwrap.KindInvalidRequest, "queue.enqueue", err, "encode entry")
	}
	if err := appendLine(q.Path(InboxFile), line); err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.enqueue", err, "append inbound record")
	}
	return entry, nil
}

// PublishResult durably appends a result to the outbound log.
func (q *Queue) PublishResult(result *Result) error {
	if result == nil {
		return errwrap.New(errwrap.KindInvalidRequest, "queue.publish", "result is required")
	}
	if result.ProducedAt.IsZero() {
		result.ProducedAt = q.now()
	}
	line, err := json.Marshal(result)
	if err != nil {
		return errwrap.Wrap(errwrap.KindInvalidRequest, "queue.publish", err, "encode result")
	}
	if err := appendLine(q.Path(OutboxFile), line); err != nil {
		return errwrap.Wrap(errwrap.KindQueueIO, "queue.publish", err, "append outbound record")
	}
	return nil
}

// DrainNew returns every complete entry past the cursor and advances the
// cursor past all consumed bytes. A crash before the cursor is written makes
// the next call return the same entries again.
func (q *Queue) DrainNew() ([]*Entry, error) {
	pending, end, err := q.Peek(0)
	if err != nil {
		return nil, err
	}
	if err := q.Commit(end); err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, p.Entry)
	}
	return entries, nil
}

// Peek reads up to max entries past the cursor (max <= 0 means no limit)
// without moving it. end is the offset past every line examined, including
// malformed ones; it equals the last entry's Next when max cut the read
// short. Only newline-terminated lines are consumed; a partial trailing line
// is left for a later call.
func (q *Queue) Peek(max int) (pending []*Pending, end int64, err error) {
	cursor, err := q.Cursor()
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(q.Path(InboxFile))
	if err != nil {
		return nil, cursor, errwrap.Wrap(errwrap.KindQueueIO, "queue.peek", err, "open inbound log")
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_SH); err != nil {
		return nil, cursor, errwrap.Wrap(errwrap.KindQueueIO, "queue.peek", err, "lock inbound log")
	}
	defer unlock(f)

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, errwrap.Wrap(errwrap.KindQueueIO, "queue.peek", err, "stat inbound log")
	}
	if cursor >= info.Size() {
		return nil, cursor, nil
	}
	if _, err := f.Seek(cursor, io.SeekStart); err != nil {
		return nil, cursor, errwrap.Wrap(errwrap.KindQueueIO, "queue.peek", err, "seek inbound log")
	}

	reader := bufio.NewReader(f)
	offset := cursor
	for max <= 0 || len(pending) < max {
		line, rerr := reader.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, cursor, errwrap.Wrap(errwrap.KindQueueIO, "queue.peek", rerr, "read inbound log")
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			break
		}

		start := offset
		offset += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		entry, perr := parseEntry(trimmed)
		if perr != nil {
			q.noteMalformed(start, offset, perr)
			continue
		}
		pending = append(pending, &Pending{Entry: entry, Next: offset})
	}

	return pending, offset, nil
}

// Commit advances the cursor to offset. The cursor never moves backwards;
// committing an older offset is a no-op.
func (q *Queue) Commit(offset int64) error {
	f, err := os.OpenFile(q.Path(CursorFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errwrap.Wrap(errwrap.KindQueueIO, "queue.commit", err, "open cursor")
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return errwrap.Wrap(errwrap.KindQueueIO, "queue.commit", err, "lock cursor")
	}
	defer unlock(f)

	current, err := readDecimal(f)
	if err != nil {
		return errwrap.Wrap(errwrap.KindQueueIO, "queue.commit", err, "read cursor")
	}
	if offset <= current {
		return nil
	}
	if err := writeDecimal(f, offset); err != nil {
		return errwrap.Wrap(errwrap.KindQueueIO, "queue.commit", err, "write cursor")
	}
	return nil
}

// Cursor returns the committed byte offset into the inbound log.
func (q *Queue) Cursor() (int64, error) {
	f, err := os.OpenFile(q.Path(CursorFile), os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.cursor", err, "open cursor")
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_SH); err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.cursor", err, "lock cursor")
	}
	defer unlock(f)

	value, err := readDecimal(f)
	if err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.cursor", err, "read cursor")
	}
	return value, nil
}

// Size returns the byte length of the inbound log.
func (q *Queue) Size() (int64, error) {
	info, err := os.Stat(q.Path(InboxFile))
	if err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.size", err, "stat inbound log")
	}
	return info.Size(), nil
}

// Backlog returns the number of unconsumed bytes in the inbound log.
func (q *Queue) Backlog() (int64, error) {
	size, err := q.Size()
	if err != nil {
		return 0, err
	}
	cursor, err := q.Cursor()
	if err != nil {
		return 0, err
	}
	if cursor >= size {
		return 0, nil
	}
	return size - cursor, nil
}

// Malformed returns how many malformed inbound lines were skipped.
func (q *Queue) Malformed() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.malformed
}

// LastResult returns the most recent well-formed outbound record, or nil when
// the outbound log holds none. Only the final 8 KiB are examined.
func (q *Queue) LastResult() (*Result, error) {
	f, err := os.Open(q.Path(OutboxFile))
	if err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.last_result", err, "open outbound log")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.last_result", err, "stat outbound log")
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	start := size - lastResultWindow
	if start < 0 {
		start = 0
	}
	window := make([]byte, size-start)
	if _, err := f.ReadAt(window, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.last_result", err, "read outbound log")
	}

	lines := bytes.Split(window, []byte{'\n'})
	if start > 0 && len(lines) > 0 {
		// The first fragment may begin mid-record.
		lines = lines[1:]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if result, ok := parseResult(lines[i]); ok {
			return result, nil
		}
	}
	return nil, nil
}

// Results returns every well-formed outbound record, oldest first.
func (q *Queue) Results() ([]*Result, error) {
	f, err := os.Open(q.Path(OutboxFile))
	if err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.results", err, "open outbound log")
	}
	defer func() { _ = f.Close() }()

	var results []*Result
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if result, ok := parseResult(scanner.Bytes()); ok {
			results = append(results, result)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errwrap.Wrap(errwrap.KindQueueIO, "queue.results", err, "read outbound log")
	}
	return results, nil
}

func (q *Queue) nextID() (uint64, error) {
	f, err := os.OpenFile(q.Path(CounterFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.next_id", err, "open counter")
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.next_id", err, "lock counter")
	}
	defer unlock(f)

	current, err := readDecimal(f)
	if err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.next_id", err, "read counter")
	}
	next := current + 1
	if err := writeDecimal(f, next); err != nil {
		return 0, errwrap.Wrap(errwrap.KindQueueIO, "queue.next_id", err, "write counter")
	}
	return uint64(next), nil
}

func (q *Queue) noteMalformed(start, end int64, cause error) {
	q.mu.Lock()
	if start < q.malformedMark {
		q.mu.Unlock()
		return
	}
	q.malformedMark = end
	q.malformed++
	q.mu.Unlock()

	if observability.AgentLogger != nil {
		observability.AgentLogger.Warn("Skipping malformed inbound record",
			zap.Int64("offset", start),
			zap.String("kind", string(errwrap.KindMalformedRecord)),
			zap.Error(cause))
	}
}

func (q *Queue) now() time.Time {
	if q.clock != nil {
		return q.clock()
	}
	return time.Now().UTC()
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return err
	}
	defer unlock(f)

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

func parseEntry(line []byte) (*Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var entry Entry
	if err := dec.Decode(&entry); err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, fmt.Errorf("record has no id")
	}
	if entry.Kind == "" {
		return nil, fmt.Errorf("record %d has no kind", entry.ID)
	}
	if entry.Args == nil {
		entry.Args = map[string]any{}
	}
	return &entry, nil
}

func parseResult(line []byte) (*Result, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(line, &result); err != nil {
		return nil, false
	}
	if result.RequestID == 0 {
		return nil, false
	}
	return &result, true
}

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}
