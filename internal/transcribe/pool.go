package transcribe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/merge"
	"github.com/snarg/vn-engine/internal/metrics"
	"github.com/snarg/vn-engine/internal/segment"
)

// PoolOptions configures the transcription worker pool.
type PoolOptions struct {
	Client    Client
	Workers   int           // concurrency cap K across the run's segments
	Attempts  int           // attempts per segment, including the first
	BaseDelay time.Duration // backoff is BaseDelay × 2^attempt
	Log       zerolog.Logger
}

// Pool transcribes a run's segments with bounded concurrency and per-segment
// retry. Segment failures are absorbed into failed outcomes; they never
// propagate as errors.
type Pool struct {
	opts PoolOptions
}

// NewPool creates a transcription worker pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Pool{opts: opts}
}

// Run transcribes all segments and returns one terminal outcome per segment,
// ordered by segment index regardless of completion order. It returns only
// when every segment has reached a terminal outcome. At most Workers calls
// are in flight at any moment.
func (p *Pool) Run(ctx context.Context, segments []segment.Segment) []merge.Outcome {
	outcomes := make([]merge.Outcome, len(segments))
	if len(segments) == 0 {
		return outcomes
	}

	workers := p.opts.Workers
	if workers > len(segments) {
		workers = len(segments)
	}

	p.opts.Log.Info().
		Int("segments", len(segments)).
		Int("workers", workers).
		Int("attempts", p.opts.Attempts).
		Msg("transcription started")
	start := time.Now()

	jobs := make(chan segment.Segment)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			log := p.opts.Log.With().Int("worker", worker).Logger()
			for seg := range jobs {
				outcomes[seg.Index] = p.transcribeSegment(ctx, log, seg)
			}
		}(i)
	}

	for _, seg := range segments {
		jobs <- seg
	}
	close(jobs)
	wg.Wait()

	p.opts.Log.Info().
		Int("segments", len(segments)).
		Int("failed", merge.FailedCount(outcomes)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("transcription finished")
	return outcomes
}

// transcribeSegment drives one segment to a terminal outcome: up to Attempts
// tries with exponential backoff on transient errors, immediate exhaustion on
// permanent ones.
func (p *Pool) transcribeSegment(ctx context.Context, log zerolog.Logger, seg segment.Segment) merge.Outcome {
	outcome := merge.Outcome{Index: seg.Index}

	for attempt := 0; attempt < p.opts.Attempts; attempt++ {
		outcome.Attempts = attempt + 1
		start := time.Now()

		text, err := p.opts.Client.Transcribe(ctx, seg.Path)
		metrics.ASRRequestDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.ASRAttemptsTotal.WithLabelValues("ok").Inc()
			outcome.Text = text
			outcome.OK = true
			log.Debug().
				Int("index", seg.Index).
				Int("attempt", attempt+1).
				Dur("asr_ms", time.Since(start)).
				Msg("segment transcribed")
			return outcome
		}

		log.Warn().Err(err).
			Int("index", seg.Index).
			Int("attempt", attempt+1).
			Int("max_attempts", p.opts.Attempts).
			Msg("transcription attempt failed")

		if !Transient(err) {
			metrics.ASRAttemptsTotal.WithLabelValues("permanent").Inc()
			log.Error().Int("index", seg.Index).Msg("permanent transcription error, inserting failure marker")
			return outcome
		}
		metrics.ASRAttemptsTotal.WithLabelValues("transient").Inc()
		if attempt == p.opts.Attempts-1 {
			break
		}

		// Exponential backoff before the next attempt.
		delay := p.opts.BaseDelay << uint(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			log.Warn().Int("index", seg.Index).Msg("run cancelled during backoff")
			return outcome
		}
	}

	log.Error().
		Int("index", seg.Index).
		Int("attempts", outcome.Attempts).
		Msg("transcription attempts exhausted, inserting failure marker")
	return outcome
}
