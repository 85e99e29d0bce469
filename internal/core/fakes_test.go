package core

import (
	"context"
	"sync"
	"time"

	"waitroom-intake/internal/document"
	"waitroom-intake/internal/llm"
)

// scriptedLLM answers by purpose.  A purpose with no script returns
// ErrUnavailable.  Calls are recorded for inspection.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[llm.Purpose][]string
	errs    map[llm.Purpose]error
	calls   []llm.Request
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{answers: map[llm.Purpose][]string{}, errs: map[llm.Purpose]error{}}
}

// on queues answers for p; the last answer repeats once the queue drains.
func (f *scriptedLLM) on(p llm.Purpose, answers ...string) *scriptedLLM {
	f.answers[p] = append(f.answers[p], answers...)
	return f
}

func (f *scriptedLLM) fail(p llm.Purpose, err error) *scriptedLLM {
	f.errs[p] = err
	return f
}

func (f *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err := f.errs[req.Purpose]; err != nil {
		return "", err
	}
	q := f.answers[req.Purpose]
	switch len(q) {
	case 0:
		return "", llm.ErrUnavailable
	case 1:
		return q[0], nil
	}
	f.answers[req.Purpose] = q[1:]
	return q[0], nil
}

func (f *scriptedLLM) count(p llm.Purpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Purpose == p {
			n++
		}
	}
	return n
}

// fakeExtractor serves report text from a map; missing refs are NotFound.
type fakeExtractor struct {
	texts map[string]string
	errs  map[string]document.Kind
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, ref string) (string, error) {
	f.calls++
	if k, ok := f.errs[ref]; ok {
		return "", &document.Error{Kind: k, Ref: ref}
	}
	if t, ok := f.texts[ref]; ok {
		return t, nil
	}
	return "", &document.Error{Kind: document.NotFound, Ref: ref}
}

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func testOptions() Options {
	o := DefaultOptions()
	o.Now = fixedClock()
	return o
}

const sampleReport = "Hemoglobin: 10.1 g/dL (low)\nFerritin: 8 ng/mL (low)\nTSH: 2.1 mIU/L"

const threeQuestions = `Here are the questions:
1. Low hemoglobin: Do you often feel tired or short of breath?
2. Low ferritin: Have you noticed unusually heavy periods or bleeding?
3. Iron intake: Do you eat red meat or leafy greens regularly?`
