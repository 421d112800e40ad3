package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/kumarabd/hostwatch/internal/metrics"
)

// Runner executes one query and returns the engine's JSON output
type Runner interface {
	Run(ctx context.Context, query string) ([]byte, error)
}

// RunError is returned when the engine exits unsuccessfully
type RunError struct {
	Stderr string
	Err    error
}

func (e *RunError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("query engine failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("query engine failed: %v", e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ExecRunner runs the engine binary once per query
type ExecRunner struct {
	Binary  string
	ReadMax int64
	Timeout time.Duration
}

// Run invokes the binary with --json and the query text
func (r *ExecRunner) Run(ctx context.Context, query string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	args := []string{"--json", query}
	if r.ReadMax > 0 {
		args = append([]string{"--read_max", strconv.FormatInt(r.ReadMax, 10)}, args...)
	}
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, &RunError{Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}

// Executor runs a group of definitions and records per-query timing
type Executor struct {
	runner Runner
	metric *metrics.Handler
	log    *logger.Handler
	now    func() time.Time
}

// NewExecutor creates an executor over runner
func NewExecutor(runner Runner, m *metrics.Handler, log *logger.Handler) *Executor {
	return &Executor{runner: runner, metric: m, log: log, now: time.Now}
}

// Execute runs every definition in order. Failed queries yield a result
// with Result false and the engine error text.
func (e *Executor) Execute(ctx context.Context, defs []Definition) (Results, Timing) {
	timing := Timing{QueryRunLength: make(map[string]float64, len(defs)), ScheduleTime: e.now()}
	results := make(Results, 0, len(defs))

	for _, def := range defs {
		res := &Result{Result: true}
		start := e.now()
		out, err := e.runner.Run(ctx, def.Query)
		elapsed := e.now().Sub(start)
		timing.QueryRunLength[def.Name] = elapsed.Seconds()

		if err == nil {
			rows, perr := ParseOutput(out)
			if rows == nil && perr != nil {
				err = perr
			} else {
				res.Data = rows
				if perr != nil {
					e.log.Warn().Err(perr).Str("query", def.Name).Msg("Failed to expand JSONIFY values")
				}
			}
		}
		if err != nil {
			res.Result = false
			res.Error = err.Error()
			var runErr *RunError
			if errors.As(err, &runErr) && runErr.Stderr != "" {
				res.Error = runErr.Stderr
			}
			e.log.Error().Err(err).Str("query", def.Name).Msg("Query failed")
		}
		e.metric.ObserveQueryRun(elapsed, res.Result)
		results = append(results, ResultSet{def.Name: res})
	}
	return results, timing
}
