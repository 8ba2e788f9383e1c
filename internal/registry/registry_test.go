package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/runctx"
)

type ctxProgram struct{ name string }

func (p ctxProgram) Name() string { return p.name }
func (p ctxProgram) Forward(ctx context.Context, rc *runctx.Context, inputs map[string]any) (map[string]any, error) {
	return inputs, nil
}

type blockingProgram struct{ name string }

func (p blockingProgram) Name() string { return p.name }
func (p blockingProgram) ForwardBlocking(rc *runctx.Context, inputs map[string]any) (map[string]any, error) {
	return inputs, nil
}

type bareProgram struct{}

func (bareProgram) Name() string { return "bare" }

type hybridProgram struct {
	ctxProgram
	blockingProgram
}

func (hybridProgram) Name() string { return "hybrid" }

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	tmpl := ConfigTemplate{Model: "openai/gpt-4o", Params: map[string]any{"temperature": 0.7}}
	if err := r.Register(ctxProgram{name: "summarize"}, tmpl); err != nil {
		t.Fatal(err)
	}

	p, got, err := r.Resolve("summarize")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "summarize" {
		t.Fatalf("resolved %q", p.Name())
	}
	if got.Model != "openai/gpt-4o" {
		t.Fatalf("template model = %q", got.Model)
	}
}

func TestResolveUnknownIsNotFound(t *testing.T) {
	r := New()
	_, _, err := r.Resolve("missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	r := New()
	if err := r.Register(ctxProgram{name: "dup"}, ConfigTemplate{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(blockingProgram{name: "dup"}, ConfigTemplate{}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestEmptyNameRejected(t *testing.T) {
	r := New()
	if err := r.Register(ctxProgram{name: ""}, ConfigTemplate{}); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestProgramMustPickOneExecutionPath(t *testing.T) {
	r := New()
	if err := r.Register(bareProgram{}, ConfigTemplate{}); err == nil {
		t.Fatal("program with neither interface accepted")
	}
	if err := r.Register(hybridProgram{}, ConfigTemplate{}); err == nil {
		t.Fatal("program with both interfaces accepted")
	}
}

func TestListSortedWithKinds(t *testing.T) {
	r := New()
	if err := r.Register(blockingProgram{name: "zeta"}, ConfigTemplate{Model: "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctxProgram{name: "alpha"}, ConfigTemplate{Model: "m2"}); err != nil {
		t.Fatal(err)
	}

	infos := r.List()
	if len(infos) != 2 || r.Len() != 2 {
		t.Fatalf("List() = %v", infos)
	}
	if infos[0].Name != "alpha" || infos[0].Kind != "context" {
		t.Fatalf("infos[0] = %+v", infos[0])
	}
	if infos[1].Name != "zeta" || infos[1].Kind != "blocking" {
		t.Fatalf("infos[1] = %+v", infos[1])
	}
}

func TestCloneDoesNotExposeTemplateParams(t *testing.T) {
	tmpl := ConfigTemplate{Model: "m", Params: map[string]any{"temperature": 0.2}}
	rc := tmpl.CloneForRequest(uuid.New(), "p", nil)

	rc.Model().SetParam("temperature", 0.9)
	if tmpl.Params["temperature"] != 0.2 {
		t.Fatalf("clone mutated template: %v", tmpl.Params["temperature"])
	}
}
