package kvstoretest

import (
	"context"
	"sync"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

// Operations recorded by Recorder.
const (
	OpOpen           = "open"
	OpClose          = "close"
	OpMutate         = "mutate"
	OpBatch          = "batch"
	OpCheckAndMutate = "check_and_mutate"
	OpBatchGet       = "batch_get"
	OpScanPage       = "scan_page"
)

// Call is one recorded table operation. Size is the number of requests the
// call carried, or the page limit for scans.
type Call struct {
	Op    string
	Table string
	Size  int
}

// Recorder wraps a connection and records every table operation made
// through it. It can be told to fail a chosen call.
type Recorder struct {
	conn kvstore.Connection

	mu     sync.Mutex
	calls  []Call
	counts map[string]int
	faults map[string]fault
}

type fault struct {
	nth int
	err error
}

var _ kvstore.Connection = (*Recorder)(nil)

func NewRecorder(conn kvstore.Connection) *Recorder {
	return &Recorder{
		conn:   conn,
		counts: make(map[string]int),
		faults: make(map[string]fault),
	}
}

// FailOn makes the nth (1-based) call of op return err instead of reaching
// the store.
func (r *Recorder) FailOn(op string, nth int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = fault{nth: nth, err: err}
}

func (r *Recorder) record(op, table string, size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[op]++
	r.calls = append(r.calls, Call{Op: op, Table: table, Size: size})
	if f, ok := r.faults[op]; ok && f.nth == r.counts[op] {
		return f.err
	}
	return nil
}

// Calls returns every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// Sizes returns the size of every op call in order.
func (r *Recorder) Sizes(op string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c.Size)
		}
	}
	return out
}

// StoreCalls returns the number of calls that reached past the table
// handle, that is everything except opens and closes.
func (r *Recorder) StoreCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls) - r.counts[OpOpen] - r.counts[OpClose]
}

// OpenTables returns the number of table handles opened and not yet closed.
func (r *Recorder) OpenTables() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[OpOpen] - r.counts[OpClose]
}

func (r *Recorder) ID() string { return r.conn.ID() }

func (r *Recorder) Table(ctx context.Context, name string) (kvstore.Table, error) {
	if err := r.record(OpOpen, name, 0); err != nil {
		return nil, err
	}
	t, err := r.conn.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	return &recordingTable{t: t, r: r}, nil
}

func (r *Recorder) CreateTable(ctx context.Context, name string) error {
	return r.conn.CreateTable(ctx, name)
}

func (r *Recorder) Close() error {
	return r.conn.Close()
}

type recordingTable struct {
	t kvstore.Table
	r *Recorder
}

func (rt *recordingTable) Name() string { return rt.t.Name() }

func (rt *recordingTable) Mutate(ctx context.Context, m record.Mutation) error {
	if err := rt.r.record(OpMutate, rt.t.Name(), 1); err != nil {
		return err
	}
	return rt.t.Mutate(ctx, m)
}

func (rt *recordingTable) Batch(ctx context.Context, ms []record.Mutation) error {
	if err := rt.r.record(OpBatch, rt.t.Name(), len(ms)); err != nil {
		return err
	}
	return rt.t.Batch(ctx, ms)
}

func (rt *recordingTable) CheckAndMutate(ctx context.Context, cm record.ConditionalMutation) (bool, error) {
	if err := rt.r.record(OpCheckAndMutate, rt.t.Name(), 1); err != nil {
		return false, err
	}
	return rt.t.CheckAndMutate(ctx, cm)
}

func (rt *recordingTable) BatchGet(ctx context.Context, gets []record.Get) ([]record.Result, error) {
	if err := rt.r.record(OpBatchGet, rt.t.Name(), len(gets)); err != nil {
		return nil, err
	}
	return rt.t.BatchGet(ctx, gets)
}

func (rt *recordingTable) ScanPage(ctx context.Context, spec record.Scan, from []byte, limit int) (record.ScanPage, error) {
	if err := rt.r.record(OpScanPage, rt.t.Name(), limit); err != nil {
		return record.ScanPage{}, err
	}
	return rt.t.ScanPage(ctx, spec, from, limit)
}

func (rt *recordingTable) Close() error {
	if err := rt.r.record(OpClose, rt.t.Name(), 0); err != nil {
		return err
	}
	return rt.t.Close()
}

// Pool hands out a single connection and counts acquires and releases.
type Pool struct {
	conn kvstore.Connection

	mu         sync.Mutex
	acquires   int
	releases   int
	acquireErr error
	onRelease  func()
}

var _ kvstore.Pool = (*Pool)(nil)

func NewPool(conn kvstore.Connection) *Pool {
	return &Pool{conn: conn}
}

// FailAcquire makes every later Acquire return err.
func (p *Pool) FailAcquire(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireErr = err
}

// OnRelease registers fn to run on every Release.
func (p *Pool) OnRelease(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRelease = fn
}

func (p *Pool) Acquire(_ context.Context, _ kvstore.Config) (kvstore.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires++
	return p.conn, nil
}

func (p *Pool) Release(_ kvstore.Config, _ kvstore.Connection) error {
	p.mu.Lock()
	p.releases++
	fn := p.onRelease
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Outstanding returns acquires minus releases.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires - p.releases
}

func (p *Pool) Acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}

func (p *Pool) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}
