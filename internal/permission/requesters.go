package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Brownie44l1/snapclass/internal/completion"
)

// Policy names how permission requests are answered.
type Policy string

const (
	PolicyGrant  Policy = "grant"
	PolicyDeny   Policy = "deny"
	PolicyPrompt Policy = "prompt"
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyGrant, PolicyDeny, PolicyPrompt, PolicyManual:
		return p, nil
	default:
		return "", fmt.Errorf("unknown permission policy %q", s)
	}
}

// Static answers every request with a fixed decision.
type Static struct {
	Grant bool
}

func (s Static) Request(_ context.Context, _ Capability) *completion.Completion[State] {
	if s.Grant {
		return completion.Resolved(Granted)
	}
	return completion.Resolved(Denied)
}

// Prompt asks on a terminal. "y"/"yes" grants, anything else denies, and
// end of input counts as dismissing the prompt. A single goroutine reads the
// input for the lifetime of the Prompt, so an abandoned request does not
// leave a reader behind; a line typed after that answers the next request.
type Prompt struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan promptLine
}

type promptLine struct {
	text string
	err  error
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out, lines: make(chan promptLine)}
}

func (p *Prompt) read() {
	r := bufio.NewReader(p.in)
	for {
		line, err := r.ReadString('\n')
		p.lines <- promptLine{text: line, err: err}
		if err != nil {
			close(p.lines)
			return
		}
	}
}

func (p *Prompt) Request(ctx context.Context, c Capability) *completion.Completion[State] {
	p.once.Do(func() { go p.read() })

	done := completion.New[State]()
	fmt.Fprintf(p.out, "Allow access to the %s? [y/N]: ", c)

	go func() {
		var line promptLine
		select {
		case <-ctx.Done():
			done.Cancel()
			return
		case l, ok := <-p.lines:
			if !ok {
				done.Cancel()
				return
			}
			line = l
		}

		if line.err != nil && !errors.Is(line.err, io.EOF) {
			done.Fail(line.err)
			return
		}
		answer := strings.ToLower(strings.TrimSpace(line.text))
		if line.err != nil && answer == "" {
			done.Cancel()
			return
		}
		switch answer {
		case "y", "yes":
			done.Resolve(Granted)
		default:
			done.Resolve(Denied)
		}
	}()
	return done
}

// Manual holds requests open until someone calls Answer. It serves clients
// that deliver the user's decision out of band, such as the HTTP API. A
// request whose context ends is cancelled and no longer pending.
type Manual struct {
	mu      sync.Mutex
	pending []*manualRequest
}

type manualRequest struct {
	done    *completion.Completion[State]
	settled chan struct{}
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Request(ctx context.Context, _ Capability) *completion.Completion[State] {
	req := &manualRequest{done: completion.New[State](), settled: make(chan struct{})}
	m.mu.Lock()
	m.pending = append(m.pending, req)
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			if m.forget(req) {
				req.done.Cancel()
			}
		case <-req.settled:
		}
	}()
	return req.done
}

// forget drops req from the pending list. It reports whether req was still
// pending.
func (m *Manual) forget(req *manualRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p == req {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manual) take() []*manualRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	m.pending = nil
	return pending
}

// Pending reports whether a request is waiting for an answer.
func (m *Manual) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// Answer resolves every pending request. It reports whether any of them
// took the answer.
func (m *Manual) Answer(granted bool) bool {
	state := Denied
	if granted {
		state = Granted
	}
	delivered := false
	for _, p := range m.take() {
		if p.done.Resolve(state) {
			delivered = true
		}
		close(p.settled)
	}
	return delivered
}

// Dismiss cancels every pending request.
func (m *Manual) Dismiss() {
	for _, p := range m.take() {
		p.done.Cancel()
		close(p.settled)
	}
}

// NewRequester builds the requester for a non-interactive policy. Prompt
// needs a terminal and is built by the caller.
func NewRequester(p Policy) (Requester, error) {
	switch p {
	case PolicyGrant:
		return Static{Grant: true}, nil
	case PolicyDeny:
		return Static{Grant: false}, nil
	case PolicyManual:
		return NewManual(), nil
	default:
		return nil, fmt.Errorf("policy %q needs an interactive requester", p)
	}
}
