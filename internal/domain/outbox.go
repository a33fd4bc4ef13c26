package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

var (
	// ErrTerminated is returned by Wait after Terminate.
	ErrTerminated = errors.New("outbox terminated")
	// ErrNotStarted is returned when the outbox is used before Start.
	ErrNotStarted = errors.New("outbox not started")
	// ErrClosed is returned by Add after Done.
	ErrClosed = errors.New("outbox no longer accepts roots")
)

// Outbox wires the stages together and supervises one scan.
type Outbox interface {
	// Start opens a scan and launches the stages.
	Start(ctx context.Context) error
	// Add queues a root for scanning.
	Add(ctx context.Context, root m.Path) error
	// Done signals that no more roots will be added; stages drain and exit.
	Done()
	// Wait blocks until every stage has exited and returns the summary.
	Wait() (*m.Summary, error)
	// Terminate cancels the scan. In-flight items may be abandoned.
	Terminate()
	// Run performs a full scan of the configured roots.
	Run(ctx context.Context) (*m.Summary, error)
}

type outbox struct {
	cfg       Config
	fs        adapter.SourceFSAdapter
	store     adapter.StateStore
	tagger    Tagger
	registrar Registrar
	metrics   *Metrics
	now       func() time.Time

	mu         sync.Mutex
	roots      chan m.Path
	closed     bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	groupCtx   context.Context
	dispatcher *Dispatcher
	scan       *m.Scan
	terminated bool
}

// NewOutbox creates an Outbox over its collaborators.
func NewOutbox(
	cfg Config,
	fs adapter.SourceFSAdapter,
	store adapter.StateStore,
	tagger Tagger,
	registrar Registrar,
	metrics *Metrics,
) Outbox {
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &outbox{
		cfg:       cfg.withDefaults(),
		fs:        fs,
		store:     store,
		tagger:    tagger,
		registrar: registrar,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (o *outbox) Start(ctx context.Context) error {
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	find, err := NewFind(o.fs, o.cfg, o.metrics)
	if err != nil {
		return err
	}

	if err := o.closeUnfinishedScans(ctx); err != nil {
		return err
	}

	era, err := o.store.RuleEra(ctx, o.cfg.RuleFingerprint)
	if err != nil {
		slog.Error("Failed to resolve rule era", "error", err)
		return err
	}

	scan := &m.Scan{ID: uuid.NewString(), Start: o.now(), State: m.ScanRunning}
	if err := o.store.StartScan(ctx, scan); err != nil {
		slog.Error("Failed to record scan start", "scan", scan.ID, "error", err)
		return err
	}

	slog.Info("Starting scan", "scan", scan.ID, "era", era, "roots", len(o.cfg.Roots))

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	o.mu.Lock()
	o.roots = make(chan m.Path)
	o.cancel = cancel
	o.group = group
	o.groupCtx = groupCtx
	o.scan = scan
	o.dispatcher = NewDispatcher(o.store, scan.ID, era, o.cfg, o.metrics)
	o.mu.Unlock()

	found := make(chan envelope)
	toChecksum := make(chan *m.WorkItem)
	checksums := make(chan envelope)
	toTag := make(chan *m.WorkItem)
	tagged := make(chan envelope)
	registered := make(chan envelope)

	checksum := NewChecksum(o.fs, o.metrics)
	tag := NewTag(o.tagger, o.metrics)
	register := NewRegister(o.registrar, o.cfg.BatchMax, o.metrics)

	group.Go(func() error { return find.Run(groupCtx, o.roots, found) })
	group.Go(func() error { return checksum.Run(groupCtx, toChecksum, checksums) })
	group.Go(func() error { return tag.Run(groupCtx, toTag, tagged) })
	group.Go(func() error { return register.Run(groupCtx, tagged, registered) })
	group.Go(func() error {
		return o.dispatcher.Run(groupCtx, DispatcherChannels{
			Found:      found,
			Checksums:  checksums,
			Registered: registered,
			ToChecksum: toChecksum,
			ToTag:      toTag,
		})
	})

	return nil
}

// closeUnfinishedScans reports scans left running by an interrupted run.
func (o *outbox) closeUnfinishedScans(ctx context.Context) error {
	scans, err := o.store.UnfinishedScans(ctx)
	if err != nil {
		slog.Error("Failed to list unfinished scans", "error", err)
		return err
	}

	for _, scan := range scans {
		slog.Warn("Previous scan did not finish; resuming from stored state", "scan", scan.ID, "started", scan.Start)

		if err := o.store.FinishScan(ctx, scan.ID, m.ScanTerminated, o.now()); err != nil {
			return err
		}
	}

	return nil
}

func (o *outbox) Add(ctx context.Context, root m.Path) error {
	o.mu.Lock()
	roots, closed, groupCtx := o.roots, o.closed, o.groupCtx
	o.mu.Unlock()

	if roots == nil {
		return ErrNotStarted
	}

	if closed {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-groupCtx.Done():
		return groupCtx.Err()
	case roots <- root:
		return nil
	}
}

func (o *outbox) Done() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.roots == nil || o.closed {
		return
	}

	o.closed = true
	close(o.roots)
}

func (o *outbox) Terminate() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return
	}

	slog.Warn("Terminating scan", "scan", o.scan.ID)
	o.terminated = true
	o.cancel()
}

func (o *outbox) Wait() (*m.Summary, error) {
	o.mu.Lock()
	group, scan, dispatcher, cancel := o.group, o.scan, o.dispatcher, o.cancel
	o.mu.Unlock()

	if group == nil {
		return nil, ErrNotStarted
	}

	runErr := group.Wait()
	cancel()

	o.mu.Lock()
	terminated := o.terminated
	o.mu.Unlock()

	summary := dispatcher.Summary()
	summary.Started = scan.Start
	summary.Finished = o.now()

	state := m.ScanComplete

	switch {
	case terminated:
		state = m.ScanTerminated
		runErr = ErrTerminated
	case runErr != nil:
		state = m.ScanFailed
	}

	// The run context may be cancelled; the scan record is still closed.
	if err := o.store.FinishScan(context.Background(), scan.ID, state, summary.Finished); err != nil {
		runErr = errors.Join(runErr, err)
	}

	slog.Info("Scan finished",
		"scan", scan.ID,
		"state", state,
		"found", summary.Found,
		"skipped", summary.Skipped,
		"registered", summary.Registered,
		"errors", len(summary.Errors),
	)

	if runErr != nil {
		return &summary, fmt.Errorf("scan %s: %w", scan.ID, runErr)
	}

	return &summary, nil
}

func (o *outbox) Run(ctx context.Context) (*m.Summary, error) {
	if err := o.Start(ctx); err != nil {
		return nil, err
	}

	for _, root := range o.cfg.Roots {
		if err := o.Add(ctx, root); err != nil {
			slog.Warn("Stopped queueing roots", "root", root, "error", err)
			break
		}
	}

	o.Done()

	return o.Wait()
}
