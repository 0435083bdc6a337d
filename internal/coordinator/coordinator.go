package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"content-refinery/internal/analyzer"
	"content-refinery/internal/collector"
	"content-refinery/internal/dto"
	"content-refinery/internal/heartbeat"
	"content-refinery/internal/ingest"
	"content-refinery/internal/store"
	"content-refinery/pkg/chat"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"
)

const writeQueueSize = 256

// job is one unit of work for the single writer.
type job struct {
	name string
	fn   func(ctx context.Context)
	done chan struct{}
}

// Coordinator is the singleton entry point. It owns the store handle
// and serializes every mutation through one writer goroutine; reads
// bypass the writer and use the store's own concurrency model.
type Coordinator struct {
	Store     *store.Store
	pipeline  *ingest.Pipeline
	analyzer  *analyzer.Analyzer
	poller    *collector.Poller
	commander *collector.Commander
	callbacks *collector.CallbackDispatcher
	heartbeat *heartbeat.Heartbeat
	sender    chat.Sender
	logger    *logger.Logger

	digestCadence  heartbeat.Cadence
	janitorCadence heartbeat.Cadence

	jobs    chan job
	writerW sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started bool
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Store     *store.Store
	Pipeline  *ingest.Pipeline
	Analyzer  *analyzer.Analyzer
	Poller    *collector.Poller
	Commander *collector.Commander
	Callbacks *collector.CallbackDispatcher
	Sender    chat.Sender
	Logger    *logger.Logger

	DigestCadence  heartbeat.Cadence
	JanitorCadence heartbeat.Cadence
}

// New creates the coordinator. The heartbeat is attached afterwards
// via SetHeartbeat because its tick function closes over the
// coordinator.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		Store:          deps.Store,
		pipeline:       deps.Pipeline,
		analyzer:       deps.Analyzer,
		poller:         deps.Poller,
		commander:      deps.Commander,
		callbacks:      deps.Callbacks,
		sender:         deps.Sender,
		logger:         deps.Logger,
		digestCadence:  deps.DigestCadence,
		janitorCadence: deps.JanitorCadence,
		jobs:           make(chan job, writeQueueSize),
	}
}

// SetHeartbeat attaches the heartbeat driving OnHeartbeat.
func (c *Coordinator) SetHeartbeat(h *heartbeat.Heartbeat) {
	c.heartbeat = h
}

// SetPipeline attaches the ingest pipeline and the feed poller. Set
// after construction because the pipeline's tickler is the heartbeat,
// whose tick function is this coordinator.
func (c *Coordinator) SetPipeline(p *ingest.Pipeline, poller *collector.Poller) {
	c.pipeline = p
	c.poller = poller
}

// Start launches the writer loop and the heartbeat.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.writerW.Add(1)
	utils.GoSafe(func() {
		defer c.writerW.Done()
		c.writerLoop(ctx)
	})

	if c.heartbeat != nil {
		utils.GoSafe(func() {
			c.heartbeat.Start(ctx)
		})
	}
}

func (c *Coordinator) writerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting so
			// accepted work is not lost.
			for {
				select {
				case j := <-c.jobs:
					c.runJob(context.Background(), j)
				default:
					return
				}
			}
		case j := <-c.jobs:
			c.runJob(ctx, j)
		}
	}
}

func (c *Coordinator) runJob(ctx context.Context, j job) {
	defer func() {
		if j.done != nil {
			close(j.done)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Writer job panicked", logger.Field("job", j.name), logger.Field("panic", r))
		}
	}()
	j.fn(ctx)
}

// submit enqueues a write job and waits for it to finish. The queue
// is bounded; a full queue blocks the caller, which is the intended
// backpressure.
func (c *Coordinator) submit(ctx context.Context, name string, fn func(ctx context.Context)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is shutting down")
	}
	c.mu.Unlock()

	j := job{name: name, fn: fn, done: make(chan struct{})}
	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs an arbitrary write on the writer goroutine. Handlers use
// this for operator mutations so every write stays serialized.
func (c *Coordinator) Do(ctx context.Context, name string, fn func(ctx context.Context)) error {
	return c.submit(ctx, name, fn)
}

// OnWebhook routes one normalized inbound record. Errors never reach
// the webhook caller; the response is always best-effort.
func (c *Coordinator) OnWebhook(ctx context.Context, rec dto.IngestRecord) {
	err := c.submit(ctx, "webhook", func(ctx context.Context) {
		c.routeText(ctx, rec)
	})
	if err != nil {
		c.logger.Error("Failed to process webhook", logger.ErrorField(err))
	}
}

// OnIngest runs a direct ingest and reports the result to the caller.
func (c *Coordinator) OnIngest(ctx context.Context, rec dto.IngestRecord) (dto.IngestResult, error) {
	var result dto.IngestResult
	var ingestErr error
	err := c.submit(ctx, "ingest", func(ctx context.Context) {
		result, ingestErr = c.pipeline.Ingest(ctx, rec)
	})
	if err != nil {
		return dto.IngestResult{}, err
	}
	return result, ingestErr
}

// routeText applies the routing rules: commands, then callbacks, then
// the ingest pipeline.
func (c *Coordinator) routeText(ctx context.Context, rec dto.IngestRecord) {
	switch {
	case collector.IsCommand(rec.Text):
		reply := c.commander.Execute(ctx, rec.Text)
		c.replyTo(ctx, rec.ChatID, reply)

	case collector.IsCallback(rec.Text):
		c.callbacks.Handle(ctx, rec.ChatID, rec.Text)

	default:
		if _, err := c.pipeline.Ingest(ctx, rec); err != nil {
			c.logger.Error("Ingest failed", logger.ErrorField(err))
			c.Store.LogState(ctx, "coordinator", "ingest failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (c *Coordinator) replyTo(ctx context.Context, chatID, text string) {
	if chatID == "" || text == "" {
		return
	}
	if err := c.sender.Send(ctx, chatID, text, nil); err != nil {
		c.logger.Error("Failed to send reply", logger.ErrorField(err), logger.StringField("chat_id", chatID))
	}
}

// OnHeartbeat runs one tick on the writer: poll, analyze, digest and
// janitor when due.
func (c *Coordinator) OnHeartbeat(ctx context.Context) heartbeat.TickResult {
	var result heartbeat.TickResult
	err := c.submit(ctx, "heartbeat", func(ctx context.Context) {
		result = c.tick(ctx)
	})
	if err != nil {
		c.logger.Error("Heartbeat tick failed to run", logger.ErrorField(err))
	}
	return result
}

func (c *Coordinator) tick(ctx context.Context) heartbeat.TickResult {
	newPollItems := c.poller.PollDue(ctx)

	emitted, backlog, err := c.analyzer.RunOnce(ctx)
	if err != nil {
		c.logger.Error("Analyzer pass failed", logger.ErrorField(err))
	}

	digested := c.runDigestIfDue(ctx)
	c.runJanitorIfDue(ctx)

	return heartbeat.TickResult{
		Active:  newPollItems > 0 || emitted > 0 || digested > 0,
		Backlog: backlog,
	}
}

func (c *Coordinator) runDigestIfDue(ctx context.Context) int {
	now := utils.NowMillis()
	last, err := c.Store.Settings.GetInt64(ctx, common.SettingLastDigestAt, 0)
	if err != nil {
		c.logger.Error("Failed to read digest watermark", logger.ErrorField(err))
		return 0
	}
	// First tick after a fresh install: stamp instead of digesting an
	// empty day.
	if last == 0 {
		c.stamp(ctx, common.SettingLastDigestAt, now)
		return 0
	}
	if !c.digestCadence.Due(last, now) {
		return 0
	}

	emitted, err := c.analyzer.RunDigest(ctx)
	if err != nil {
		c.logger.Error("Digest synthesis failed", logger.ErrorField(err))
		return 0
	}
	c.stamp(ctx, common.SettingLastDigestAt, now)
	c.logger.Info("Digest generated", logger.IntField("signals", emitted))
	return emitted
}

func (c *Coordinator) runJanitorIfDue(ctx context.Context) {
	now := utils.NowMillis()
	last, err := c.Store.Settings.GetInt64(ctx, common.SettingLastJanitorAt, 0)
	if err != nil {
		c.logger.Error("Failed to read janitor watermark", logger.ErrorField(err))
		return
	}
	if last == 0 {
		c.stamp(ctx, common.SettingLastJanitorAt, now)
		return
	}
	if !c.janitorCadence.Due(last, now) {
		return
	}

	cutoff := now - 7*24*3_600_000
	pruned, err := c.Store.Logs.PruneOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("Janitor prune failed", logger.ErrorField(err))
		return
	}
	c.stamp(ctx, common.SettingLastJanitorAt, now)
	c.logger.Info("Janitor pruned internal logs", logger.Int64Field("rows", pruned))
}

func (c *Coordinator) stamp(ctx context.Context, key string, ts int64) {
	if err := c.Store.Settings.SetInt64(ctx, key, ts); err != nil {
		c.logger.Error("Failed to persist watermark", logger.ErrorField(err), logger.StringField("key", key))
	}
}

// ForceReanalyze clears prior analysis for the given items and pulls
// the heartbeat forward. Serves the admin digest endpoint.
func (c *Coordinator) ForceReanalyze(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return fmt.Errorf("no item ids given")
	}
	return c.submit(ctx, "reanalyze", func(ctx context.Context) {
		if err := c.Store.Items.ClearAnalysis(ctx, itemIDs); err != nil {
			c.logger.Error("Failed to clear analysis", logger.ErrorField(err))
			return
		}
		if c.heartbeat != nil {
			c.heartbeat.Tickle()
		}
	})
}

// OnShutdown drains in-flight writes up to the grace period.
func (c *Coordinator) OnShutdown(grace time.Duration) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.writerW.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Coordinator drained cleanly")
	case <-time.After(grace):
		c.logger.Warn("Coordinator shutdown grace elapsed with work in flight")
	}
}
