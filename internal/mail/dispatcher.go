package mail

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pft/internal/metrics"
)

// Dispatcher は有界キューとワーカーでメールを非同期に送信する。
// Enqueueはブロックせず、キューが満杯の場合はメールを破棄する。
// 送信失敗の再試行はしない。
type Dispatcher struct {
	cfg      Config
	renderer *Renderer
	sender   Sender
	metrics  metrics.Recorder

	queue  chan Message
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(cfg Config, renderer *Renderer, sender Sender, recorder metrics.Recorder) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		renderer: renderer,
		sender:   sender,
		metrics:  recorder,
		queue:    make(chan Message, size),
	}
}

// Start はワーカーを起動する。ctxは個々の送信に引き渡される。
func (d *Dispatcher) Start(ctx context.Context) {
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	slog.Info("mail dispatcher started",
		slog.Int("workers", workers),
		slog.Int("queue_size", cap(d.queue)),
		slog.String("backend", d.cfg.Backend),
	)
}

// Enqueue はメールを送信キューに積む。積めなかった場合はfalseを返す。
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		slog.Warn("mail dropped: dispatcher stopped",
			slog.String("template", msg.Template),
		)
		d.metrics.RecordMail(msg.Template, metrics.OutcomeDropped)
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		slog.Warn("mail dropped: queue full",
			slog.String("template", msg.Template),
			slog.Int("queue_size", cap(d.queue)),
		)
		d.metrics.RecordMail(msg.Template, metrics.OutcomeDropped)
		return false
	}
}

// Stop は新規受付を止め、キューに残ったメールを送信し終えるまで待つ。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("mail dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(ctx, msg)
	}
}

// deliver は1通のメールを組み立てて送信する。失敗はログとメトリクスに残すのみ。
func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	htmlBody, textBody, err := d.renderer.Render(msg)
	if err != nil {
		slog.Error("failed to render mail",
			slog.String("template", msg.Template),
			slog.String("error", err.Error()),
		)
		d.metrics.RecordMail(msg.Template, metrics.OutcomeFailure)
		return
	}

	env := Envelope{
		From:    d.cfg.Sender,
		To:      msg.To,
		Subject: strings.TrimSpace(d.cfg.SubjectPrefix + " " + msg.Subject),
		HTML:    htmlBody,
		Text:    textBody,
	}

	start := time.Now()
	err = d.sender.Send(ctx, env)
	d.metrics.RecordMailLatency(time.Since(start))
	if err != nil {
		slog.Error("failed to send mail",
			slog.String("template", msg.Template),
			slog.String("error", err.Error()),
		)
		d.metrics.RecordMail(msg.Template, metrics.OutcomeFailure)
		return
	}
	d.metrics.RecordMail(msg.Template, metrics.OutcomeSuccess)
}
