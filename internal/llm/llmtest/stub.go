// Package llmtest provides a deterministic Inferrer stub so pipeline logic
// can be verified without a live model dependency.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/invoicepipe/invoicepipe/internal/llm"
)

// Stub implements llm.Inferrer from canned responses keyed by document key.
// Errs takes precedence for both calls.
type Stub struct {
	Answers map[string]string                     // Answer replies by doc key
	Fields  map[string]map[string]json.RawMessage // Infer replies by doc key
	Errs    map[string]error                      // forced failures by doc key

	// Started, when non-nil, receives each document key as a call begins;
	// Gate, when non-nil, blocks each call until it can receive. The pair
	// lets a test hold a call in flight while it cancels the batch.
	Started chan string
	Gate    chan struct{}

	mu        sync.Mutex
	InferLog  []string // doc keys in call order
	AnswerLog []string
}

var _ llm.Inferrer = (*Stub)(nil)

func (s *Stub) Infer(_ context.Context, doc llm.Document, _ llm.Contract) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	s.InferLog = append(s.InferLog, doc.Key)
	s.mu.Unlock()
	s.hold(doc.Key)
	if err, ok := s.Errs[doc.Key]; ok {
		return nil, err
	}
	return s.Fields[doc.Key], nil
}

func (s *Stub) Answer(_ context.Context, doc llm.Document, _ string) (string, error) {
	s.mu.Lock()
	s.AnswerLog = append(s.AnswerLog, doc.Key)
	s.mu.Unlock()
	s.hold(doc.Key)
	if err, ok := s.Errs[doc.Key]; ok {
		return "", err
	}
	return s.Answers[doc.Key], nil
}

func (s *Stub) hold(key string) {
	if s.Started != nil {
		s.Started <- key
	}
	if s.Gate != nil {
		<-s.Gate
	}
}

// RawFields is a convenience for building Infer replies from plain strings.
func RawFields(kv map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	return out
}
