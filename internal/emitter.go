// emitter.go
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrCommandRejected marks an actuator send failure after the retry cap.
var ErrCommandRejected = errors.New("command rejected by actuator interface")

// CommandSender delivers one actuator command. Implementations are
// synchronous-with-timeout from the emitter's point of view; the
// transport may be asynchronous underneath.
type CommandSender interface {
	Send(ctx context.Context, cmd Command) error
	PublishFault(ctx context.Context, ev FaultEvent) error
}

// TickResult summarizes one emitter pass for stats and the ws feed.
type TickResult struct {
	Sent      []Command `json:"sent"`
	Holds     int       `json:"holds"`
	NoChanges int       `json:"noChanges"`
	Faulted   []string  `json:"faulted,omitempty"`
}

// Emitter consolidates per-tick decisions into an ordered command
// batch. It exclusively owns the commanded state: a subsystem's last
// commanded value changes only here, and only after the actuator
// interface accepts the command. A failed send leaves the state
// untouched so the next tick recomputes the same delta.
type Emitter struct {
	cfg    *AppConfig
	lg     *slog.Logger
	sender CommandSender

	commanded map[string]Commanded
	failures  map[string]int
	faulted   map[string]bool
}

func NewEmitter(cfg *AppConfig, lg *slog.Logger, sender CommandSender) *Emitter {
	return &Emitter{
		cfg:       cfg,
		lg:        lg,
		sender:    sender,
		commanded: map[string]Commanded{},
		failures:  map[string]int{},
		faulted:   map[string]bool{},
	}
}

// Commanded returns the last accepted value for a subsystem.
func (e *Emitter) Commanded(subsystem string) Commanded {
	return e.commanded[subsystem]
}

// CommandedAll returns a copy of the commanded values for /status.
func (e *Emitter) CommandedAll() map[string]float64 {
	out := make(map[string]float64, len(e.commanded))
	for id, c := range e.commanded {
		if c.OK {
			out[id] = c.Value
		}
	}
	return out
}

// Faulted reports whether a subsystem is in fault state.
func (e *Emitter) Faulted(subsystem string) bool { return e.faulted[subsystem] }

// Emit applies the deadband/rate policy to each decision, orders the
// resulting commands by configured priority (safety-relevant subsystems
// first), sends them and updates commanded state per accepted command.
// A failing subsystem never blocks the rest of the batch.
func (e *Emitter) Emit(ctx context.Context, decisions []Decision, now time.Time) TickResult {
	ordered := make([]Decision, len(decisions))
	copy(ordered, decisions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return e.cfg.Subsystems[ordered[i].Subsystem].Priority < e.cfg.Subsystems[ordered[j].Subsystem].Priority
	})

	res := TickResult{}
	for _, d := range ordered {
		params, ok := e.cfg.Subsystems[d.Subsystem]
		if !ok {
			e.lg.Error("no policy entry", "subsystem", d.Subsystem)
			continue
		}
		prior := e.commanded[d.Subsystem]
		value, outcome := ApplyPolicy(prior, d.Target, d.Hold, d.Force, params, now)
		switch outcome {
		case PolicyHold:
			res.Holds++
			e.lg.Debug("policy hold", "subsystem", d.Subsystem, "reason", d.Reason)
			continue
		case PolicyNoChange:
			res.NoChanges++
			continue
		}

		cmd := Command{
			Subsystem: d.Subsystem,
			Value:     value,
			Aux:       d.Aux,
			Reason:    d.Reason,
			Phase:     d.Phase.String(),
			IssuedAt:  now.UnixMilli(),
		}
		if err := e.sendWithRetry(ctx, cmd); err != nil {
			e.failures[d.Subsystem]++
			e.lg.Error("command send failed", "subsystem", d.Subsystem, "error", err,
				"consecutive_ticks", e.failures[d.Subsystem])
			if !e.faulted[d.Subsystem] {
				e.raiseFault(ctx, d.Subsystem, err)
			}
			res.Faulted = append(res.Faulted, d.Subsystem)
			continue
		}
		e.commanded[d.Subsystem] = Commanded{Value: value, At: now, OK: true}
		if e.faulted[d.Subsystem] {
			e.lg.Info("subsystem recovered", "subsystem", d.Subsystem)
		}
		e.failures[d.Subsystem] = 0
		e.faulted[d.Subsystem] = false
		res.Sent = append(res.Sent, cmd)
		e.lg.Info("command", "subsystem", d.Subsystem, "value", value, "reason", d.Reason)
	}
	return res
}

// sendWithRetry attempts one command with bounded backoff. Each attempt
// runs under the configured command timeout so a slow actuator cannot
// stall the tick past its bound.
func (e *Emitter) sendWithRetry(ctx context.Context, cmd Command) error {
	backoff := time.Duration(e.cfg.Control.RetryBackoffMs) * time.Millisecond
	timeout := time.Duration(e.cfg.Control.CommandTimeoutS * float64(time.Second))

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Control.RetryAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err := e.sender.Send(sendCtx, cmd)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < e.cfg.Control.RetryAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrCommandRejected, ctx.Err())
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrCommandRejected, lastErr)
}

func (e *Emitter) raiseFault(ctx context.Context, subsystem string, cause error) {
	e.faulted[subsystem] = true
	ev := FaultEvent{
		Subsystem: subsystem,
		Error:     cause.Error(),
		Attempts:  e.cfg.Control.RetryAttempts,
		Timestamp: time.Now().UnixMilli(),
	}
	e.lg.Error("subsystem fault", "subsystem", subsystem, "attempts", ev.Attempts, "error", cause)
	if err := e.sender.PublishFault(ctx, ev); err != nil {
		e.lg.Error("fault publish failed", "subsystem", subsystem, "error", err)
	}
}
