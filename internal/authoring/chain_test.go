package authoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// hangingProvider blocks until its context ends.
type hangingProvider struct{}

func (hangingProvider) Name() string { return "colgado" }
func (hangingProvider) Send(ctx context.Context, _ *LLMRequest) (*LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChain_FallsBack(t *testing.T) {
	t.Parallel()

	first := &mockProvider{name: "anthropic", errs: []error{errors.New("overloaded")}}
	second := &mockProvider{name: "gemini", responses: []*LLMResponse{textResponse("hola")}}
	third := &mockProvider{name: "openai"}
	chain := NewChain(log.Nop(), time.Second, first, second, third)

	if chain.Name() != "anthropic,gemini,openai" || chain.Len() != 3 {
		t.Errorf("Name = %q, Len = %d", chain.Name(), chain.Len())
	}

	resp, err := chain.Send(context.Background(), &LLMRequest{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Provider != "gemini" || resp.Text() != "hola" {
		t.Errorf("resp = %+v", resp)
	}
	if third.calls() != 0 {
		t.Error("chain kept going after a success")
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()

	chain := NewChain(log.Nop(), time.Second,
		&mockProvider{name: "anthropic", errs: []error{errors.New("401 unauthorized")}},
		&mockProvider{name: "openai", errs: []error{errors.New("quota exceeded")}},
	)

	_, err := chain.Send(context.Background(), &LLMRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"anthropic: 401 unauthorized", "openai: quota exceeded"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestChain_AttemptTimeout(t *testing.T) {
	t.Parallel()

	next := &mockProvider{name: "openai", responses: []*LLMResponse{textResponse("ok")}}
	chain := NewChain(log.Nop(), 20*time.Millisecond, hangingProvider{}, next)

	resp, err := chain.Send(context.Background(), &LLMRequest{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Provider != "openai" {
		t.Errorf("provider = %q, want openai", resp.Provider)
	}
}

func TestChain_StopsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	next := &mockProvider{name: "openai"}
	chain := NewChain(log.Nop(), time.Second, hangingProvider{}, next)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := chain.Send(ctx, &LLMRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if next.calls() != 0 {
		t.Error("chain tried the next provider after cancellation")
	}
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	if _, err := NewChain(nil, 0).Send(context.Background(), &LLMRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}
