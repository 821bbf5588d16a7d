package provider

import (
	"context"
	"sync"

	"github.com/ragguard-ai/ragguard/internal/inference"
)

// FakeProvider returns a fixed response (or error) for every call.
type FakeProvider struct {
	ResponseText string
	Error        error
}

func NewFake(response string) *FakeProvider {
	return &FakeProvider{ResponseText: response}
}

func (f *FakeProvider) ChatCompletion(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if f.Error != nil {
		return nil, f.Error
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &inference.Response{
		Message: inference.Message{
			Role:    "assistant",
			Content: f.ResponseText,
		},
		Usage: inference.Usage{
			PromptTokens:     2,
			CompletionTokens: 3,
			TotalTokens:      5,
		},
	}, nil
}

// ScriptedProvider returns queued responses in order, one per call. Once the
// script runs out it repeats the last entry. Each entry may be a response or
// an error, so tests and the offline demo can pin exact model behavior.
type ScriptedProvider struct {
	mu     sync.Mutex
	script []ScriptedReply
	calls  []*inference.Request
}

type ScriptedReply struct {
	Content string
	Err     error
}

func NewScripted(script ...ScriptedReply) *ScriptedProvider {
	return &ScriptedProvider{script: script}
}

func (s *ScriptedProvider) ChatCompletion(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	idx := len(s.calls) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	var reply ScriptedReply
	if idx >= 0 {
		reply = s.script[idx]
	}
	s.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &inference.Response{
		Message: inference.Message{
			Role:    "assistant",
			Content: reply.Content,
		},
	}, nil
}

// Calls returns a copy of the requests seen so far.
func (s *ScriptedProvider) Calls() []*inference.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*inference.Request, len(s.calls))
	copy(out, s.calls)
	return out
}
