package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

const defaultInterpreter = "python3"

// pythonHarness drives one run. It reads a request document from fd 3,
// executes the code with `state` and `result` in scope, and writes the
// post-run state document to fd 4. Stdout and stderr belong to the user code;
// state never travels over them.
const pythonHarness = `
import json, os, sys, traceback

_req = json.load(os.fdopen(3, 'r'))
_ns = {'state': _req.get('state') or {}, 'result': None}
_rc = 0
try:
    exec(compile(_req['code'], '<run_code>', 'exec'), _ns)
except BaseException:
    traceback.print_exc()
    _rc = 1

def _jsonable(v):
    try:
        json.dumps(v, allow_nan=False)
        return True
    except Exception:
        return False

_state = _ns.get('state')
if not isinstance(_state, dict):
    _state = {}
_doc = {
    'state': {k: v for k, v in _state.items() if isinstance(k, str) and _jsonable(v)},
    'result': _ns.get('result') if _jsonable(_ns.get('result')) else None,
}
with os.fdopen(4, 'w') as _out:
    json.dump(_doc, _out)
sys.exit(_rc)
`

// LocalRunner executes code with a local Python interpreter. State crosses
// the process boundary as JSON on dedicated file descriptors.
type LocalRunner struct {
	// Interpreter is the Python executable to invoke. Empty means python3.
	Interpreter string
}

type harnessRequest struct {
	Code  string `json:"code"`
	State State  `json:"state"`
}

type harnessResponse struct {
	State  State           `json:"state"`
	Result json.RawMessage `json:"result"`
}

func (r *LocalRunner) Run(ctx context.Context, code string, state State) (Execution, error) {
	interpreter := r.Interpreter
	if interpreter == "" {
		interpreter = defaultInterpreter
	}

	req, err := json.Marshal(harnessRequest{Code: code, State: state})
	if err != nil {
		return Execution{}, fmt.Errorf("encode sandbox request: %w", err)
	}

	reqR, reqW, err := os.Pipe()
	if err != nil {
		return Execution{}, err
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return Execution{}, err
	}

	cmd := exec.CommandContext(ctx, interpreter, "-c", pythonHarness)
	// The harness sees these as fd 3 and fd 4.
	cmd.ExtraFiles = []*os.File{reqR, respW}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// When the context is cancelled, Go sends SIGKILL. Without WaitDelay,
	// cmd.Wait can still block waiting for pipe I/O to drain. Force-close the
	// pipes shortly after the kill signal is sent.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
		return Execution{}, fmt.Errorf("start interpreter: %w", err)
	}
	reqR.Close()
	respW.Close()

	// The harness drains fd 3 to EOF before it executes anything, so writing
	// the whole request here cannot deadlock against the fd 4 read below. If
	// the child dies early the write fails with EPIPE instead of blocking.
	_, writeErr := reqW.Write(req)
	reqW.Close()

	doc, _ := io.ReadAll(respR)
	respR.Close()

	waitErr := cmd.Wait()

	ex := Execution{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Usage: Usage{
			Duration:     time.Since(start),
			CodeLength:   len(code),
			StdoutLength: stdout.Len(),
			StderrLength: stderr.Len(),
		},
	}

	if len(doc) > 0 {
		var resp harnessResponse
		if err := json.Unmarshal(doc, &resp); err != nil {
			return ex, fmt.Errorf("decode sandbox state: %w", err)
		}
		ex.State = resp.State
		if len(resp.Result) > 0 && string(resp.Result) != "null" {
			ex.Result = resp.Result
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			ex.ExitCode = exitErr.ExitCode()
		} else {
			return ex, fmt.Errorf("run interpreter: %w", waitErr)
		}
	}
	if err := ctx.Err(); err != nil {
		return ex, err
	}
	if writeErr != nil && len(doc) == 0 {
		return ex, fmt.Errorf("hand state to interpreter: %w", writeErr)
	}
	return ex, nil
}
