package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"
	"abr-pipeline/internal/segmenter"
)

// errNotStarted marks jobs dropped from the queue because a sibling had
// already failed the asset. Jobs that started are left to finish.
var errNotStarted = errors.New("not started: asset already failed")

func cancelledError(reason string) error {
	return &media.Error{Class: media.ErrCancelled, Kind: media.Permanent, Op: reason, Err: context.Canceled}
}

// task returns the pool task for the next attempt of j.
func (o *Orchestrator) task(j *job) func() {
	return func() { o.runAttempt(j) }
}

// runAttempt runs on a pool worker and holds its slot until the last segment
// of the attempt is stored. Backoff waits happen off the pool.
func (o *Orchestrator) runAttempt(j *job) {
	run := j.run
	if run.ctx.Err() != nil {
		o.finishJob(j, cancelledError(run.cancelledBy()))
		return
	}
	if j.attemptCount() == 0 && run.hasFailed() {
		o.finishJob(j, errNotStarted)
		return
	}

	start := time.Now()
	err := o.attempt(j)
	if o.metrics != nil {
		o.metrics.ObserveJobDuration(time.Since(start).Seconds())
	}
	if err == nil {
		o.finishJob(j, nil)
		return
	}
	if run.ctx.Err() != nil {
		o.finishJob(j, cancelledError(run.cancelledBy()))
		return
	}
	if media.IsTransient(err) && j.attemptCount() < o.cfg.MaxAttempts {
		if delay, stop := j.backoff.Next(); !stop {
			o.scheduleRetry(j, delay, err)
			return
		}
	}
	o.finishJob(j, err)
}

// attempt is Transcode, Segment, Upload for one rendition, strictly in order.
func (o *Orchestrator) attempt(j *job) error {
	run := j.run

	run.mu.Lock()
	j.attempts++
	j.segments = nil
	run.mu.Unlock()

	j.advance(JobTranscoding)
	rend, err := o.transcoder.Transcode(run.ctx, run.source, j.spec)
	if err != nil {
		return transcodeFailure(err)
	}
	defer rend.Close()

	j.advance(JobSegmenting)
	seg := segmenter.New(rend, func(i int) string {
		return o.cfg.Keys.Segment(run.kind, run.id, run.generation, j.spec, i)
	})
	for {
		if err := run.ctx.Err(); err != nil {
			return err
		}
		c, err := seg.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		j.advance(JobUploading)
		if err := o.store.Put(run.ctx, c.Key, c.Data); err != nil {
			return storageFailure(fmt.Sprintf("put segment %d", c.Index), err)
		}
		if o.metrics != nil {
			o.metrics.AddSegmentUploaded(c.Size)
		}

		run.mu.Lock()
		j.segments = append(j.segments, c.Segment)
		run.mu.Unlock()
	}
}

func (o *Orchestrator) scheduleRetry(j *job, delay time.Duration, cause error) {
	run := j.run
	o.log.Warn("rendition job retrying",
		slog.String("asset_id", run.id),
		slog.String("rendition", j.spec.ID()),
		slog.Int("attempt", j.attemptCount()),
		slog.Duration("backoff", delay),
		slog.String("error", cause.Error()),
	)
	if o.metrics != nil {
		o.metrics.IncJobRetries()
	}

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-run.ctx.Done():
			o.finishJob(j, cancelledError(run.cancelledBy()))
			return
		case <-t.C:
		}
		if err := o.pool.Submit(o.task(j)); err != nil {
			o.finishJob(j, fmt.Errorf("resubmit after %v: %w", cause, err))
		}
	}()
}

// finishJob records the job's terminal state. The job that brings the run's
// outstanding count to zero completes the run.
func (o *Orchestrator) finishJob(j *job, err error) {
	run := j.run

	run.mu.Lock()
	if err != nil {
		j.state = JobFailed
		j.err = err
	} else {
		j.state = JobDone
	}
	run.mu.Unlock()

	if err != nil && !errors.Is(err, errNotStarted) && !errors.Is(err, media.ErrCancelled) {
		if run.recordFailure(j, err) {
			o.log.Error("rendition job failed",
				slog.String("asset_id", run.id),
				slog.String("rendition", j.spec.ID()),
				slog.Int("attempt", j.attemptCount()),
				slog.String("class", media.ClassName(err)),
				slog.String("error", err.Error()),
			)
		}
		if o.metrics != nil {
			o.metrics.IncJobFailures(media.ClassName(err))
		}
	}

	// The terminal transition runs off the pool so the slot is free for other
	// assets; o.runs counts the run until complete returns.
	if run.remaining.Add(-1) == 0 {
		go o.complete(run)
	}
}

func transcodeFailure(err error) error {
	var me *media.Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return media.TranscodeError(media.Permanent, "transcode", err)
}

func storageFailure(op string, err error) error {
	var me *media.Error
	if errors.As(err, &me) {
		return err
	}
	return media.StorageError(blob.Classify(err), op, err)
}

func (j *job) attemptCount() int {
	j.run.mu.Lock()
	defer j.run.mu.Unlock()
	return j.attempts
}

func (r *Run) hasFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failErr != nil
}
