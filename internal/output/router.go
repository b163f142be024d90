// Package output implements the engine's optional per-task output
// router: a narrow interface over "replace stdout/stderr for the
// duration of a run, attribute every write to whichever task is
// currently active". Rendering what is captured (a progress UI, log
// forwarding, etc.) is an external collaborator's concern; this package
// only does capture and attribution.
package output

import (
	"bytes"
	"os"
	"sync"
)

// Router replaces process stdout/stderr during execution. os.Stdout and
// os.Stderr are single process-wide handles, so there is no way to read
// a chunk back off them and learn which goroutine wrote it — a pump
// goroutine reading a shared pipe has already lost that information by
// the time the bytes arrive. Instead, Bind installs a dedicated pipe
// pair for exactly the task it names and holds process stdout/stderr
// pointed at that pipe until the matching Unbind: attribution happens
// at bind time, by construction, rather than by inspecting the bytes
// after the fact. This serializes capture across concurrently running
// tasks (only one task's output is ever wired to the real stdout/stderr
// at a time): a bound task holds up every other Bind until its own
// Unbind, whether or not it writes anything, and capture is opt-in
// (--capture-output) precisely because of this tradeoff.
type Router struct {
	mu      sync.Mutex
	buffers map[string]*bytes.Buffer

	bindMu sync.Mutex // held from Bind to the matching Unbind

	origStdout *os.File
	origStderr *os.File

	curStdoutW *os.File
	curStderrW *os.File
	curDone    chan struct{}
}

// NewRouter returns an uninstalled Router.
func NewRouter() *Router {
	return &Router{buffers: make(map[string]*bytes.Buffer)}
}

// Setup saves the original os.Stdout/os.Stderr so Teardown can restore
// them. The streams themselves are only ever pointed at a real pipe
// between a Bind/Unbind pair; outside of that window they are left at
// their original values.
func (r *Router) Setup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origStdout = os.Stdout
	r.origStderr = os.Stderr
	return nil
}

// Bind installs a fresh pipe pair as os.Stdout/os.Stderr and attributes
// everything written to either until the matching Unbind to taskName.
// It blocks until any other task's Bind/Unbind window has closed, since
// only one task may own the process stdout/stderr swap at a time.
func (r *Router) Bind(taskName string) {
	r.bindMu.Lock()

	outR, outW, err := os.Pipe()
	if err != nil {
		// Nothing to attribute to; leave stdout/stderr untouched and let
		// Unbind no-op via the nil writers below.
		r.curDone = nil
		return
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		r.curDone = nil
		return
	}

	os.Stdout = outW
	os.Stderr = errW
	r.curStdoutW = outW
	r.curStderrW = errW
	done := make(chan struct{})
	r.curDone = done

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.drain(taskName, outR)
	}()
	go func() {
		defer wg.Done()
		r.drain(taskName, errR)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
}

func (r *Router) drain(taskName string, reader *os.File) {
	defer reader.Close()
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			r.append(taskName, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Unbind closes the current pipe pair, waits for every captured byte to
// be drained and attributed, and restores os.Stdout/os.Stderr to
// whatever they were before the matching Bind.
func (r *Router) Unbind() {
	stdoutW, stderrW, done := r.curStdoutW, r.curStderrW, r.curDone
	r.curStdoutW, r.curStderrW, r.curDone = nil, nil, nil

	if stdoutW != nil {
		_ = stdoutW.Close()
	}
	if stderrW != nil {
		_ = stderrW.Close()
	}
	if done != nil {
		<-done
	}

	r.mu.Lock()
	if r.origStdout != nil {
		os.Stdout = r.origStdout
	}
	if r.origStderr != nil {
		os.Stderr = r.origStderr
	}
	r.mu.Unlock()

	r.bindMu.Unlock()
}

func (r *Router) append(taskName string, p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[taskName]
	if !ok {
		b = &bytes.Buffer{}
		r.buffers[taskName] = b
	}
	b.Write(p)
}

// Teardown restores the original stdout/stderr, in case a Bind window
// was left open by a panic that unwound past its deferred Unbind.
func (r *Router) Teardown() {
	r.mu.Lock()
	origStdout, origStderr := r.origStdout, r.origStderr
	r.mu.Unlock()

	if origStdout != nil {
		os.Stdout = origStdout
	}
	if origStderr != nil {
		os.Stderr = origStderr
	}
}

// Read returns up to limit lines captured for taskName so far. limit <=
// 0 means unbounded.
func (r *Router) Read(taskName string, limit int) []string {
	r.mu.Lock()
	b, ok := r.buffers[taskName]
	var data []byte
	if ok {
		data = append([]byte(nil), b.Bytes()...)
	}
	r.mu.Unlock()
	if len(data) == 0 {
		return nil
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, string(l))
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
