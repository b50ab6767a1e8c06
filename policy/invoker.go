package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"atui/chat"
	"atui/config"
	"atui/mcp"
)

// Invoker runs tool calls under the invocation policy and keeps the
// append-only audit trail for one turn. The trail is mutex-guarded so the
// design does not preclude parallel invocation, even though calls within a
// round run sequentially today.
type Invoker struct {
	servers mcp.Servers
	cfg     config.ToolsConfig

	mu      sync.Mutex
	records []chat.FunctionCall
}

func NewInvoker(servers mcp.Servers, cfg config.ToolsConfig) *Invoker {
	return &Invoker{
		servers: servers,
		cfg:     cfg,
	}
}

// Invoke executes one bound tool call. Arguments are validated first
// (terminal on failure, no attempts made); then the call runs up to
// maxRetries+1 times with a per-attempt timeout. Exactly one audit record is
// appended per call, on the terminal branch.
func (inv *Invoker) Invoke(ctx context.Context, b mcp.Binding, args map[string]any) (string, error) {
	canonicalReq := Canonical(args)
	start := time.Now()

	if err := ValidateArgs(b.Schema, args); err != nil {
		inv.Record(chat.FunctionCall{
			Server:  b.Server,
			Tool:    b.Tool,
			Request: canonicalReq,
			Result:  Diagnostic("error", 1, time.Since(start), err.Error()),
		})
		return "", fmt.Errorf("invalid arguments for %s: %w", b.Tool, err)
	}

	attempts := inv.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(inv.cfg.RetryDelay()):
			case <-ctx.Done():
				inv.Record(chat.FunctionCall{
					Server:  b.Server,
					Tool:    b.Tool,
					Request: canonicalReq,
					Result:  Diagnostic("error", attempt, time.Since(start), ctx.Err().Error()),
				})
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout())
		response, err := inv.servers.Invoke(callCtx, b.Server, b.Tool, args)
		cancel()

		if err == nil {
			inv.Record(chat.FunctionCall{
				Server:  b.Server,
				Tool:    b.Tool,
				Request: canonicalReq,
				Result:  Diagnostic("ok", attempt, time.Since(start), CanonicalText(response)),
			})
			return response, nil
		}

		lastErr = err
		if !retryable(ctx, err) {
			inv.Record(chat.FunctionCall{
				Server:  b.Server,
				Tool:    b.Tool,
				Request: canonicalReq,
				Result:  Diagnostic("error", attempt, time.Since(start), err.Error()),
			})
			return "", err
		}

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Policy] %s/%s attempt %d/%d failed: %v", b.Server, b.Tool, attempt, attempts, err)
		}
	}

	inv.Record(chat.FunctionCall{
		Server:  b.Server,
		Tool:    b.Tool,
		Request: canonicalReq,
		Result:  Diagnostic("error", attempts, time.Since(start), lastErr.Error()),
	})
	return "", lastErr
}

// retryable classifies an attempt failure. Cancellation counts as retryable
// only while the caller's own context is still live; once the caller has
// cancelled, the failure is terminal.
func retryable(callerCtx context.Context, err error) bool {
	if callerCtx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Record appends one audit record. Used by Invoke and for synthesized
// records (e.g. tool names the registry cannot resolve).
func (inv *Invoker) Record(rec chat.FunctionCall) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.records = append(inv.records, rec)
}

// Records returns a snapshot of the audit trail in append order.
func (inv *Invoker) Records() []chat.FunctionCall {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]chat.FunctionCall, len(inv.records))
	copy(out, inv.records)
	return out
}

// Diagnostic formats the audit result field. The engine uses it too, for
// records it synthesizes without running the policy (unresolvable tool names).
func Diagnostic(status string, attempt int, elapsed time.Duration, payload string) string {
	return fmt.Sprintf("status=%s;attempt=%d;duration=%s;%s", status, attempt, elapsed.Round(time.Millisecond), payload)
}
