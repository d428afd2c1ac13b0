package examples

import (
	"encoding/json"
	"testing"

	"github.com/bluecollar/bluecollar/internal/registry"
)

// jsonRoundTrip mirrors what internal/worker's decodeArgs actually does
// with an envelope argument: marshal the given value, then decode it back
// into an `any`. A gateway-supplied path segment round-trips into a
// string this way, not the native Go value a test might otherwise pass
// directly.
func jsonRoundTrip(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	return out
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestCalculatorAddDefaultsToLastResult(t *testing.T) {
	reg := newRegistry(t)
	target, err := reg.Resolve("calculator.add")
	if err != nil {
		t.Fatalf("expected calculator.add to resolve: %v", err)
	}
	method, ok := target.Type.Method(target.Tail)
	if !ok {
		t.Fatal("expected add method")
	}
	instance := target.Type.New()

	result, err := method(instance, []any{5.0}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if result != 5.0 {
		t.Fatalf("expected 5, got %v", result)
	}

	result, err = method(instance, []any{5.0}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if result != 10.0 {
		t.Fatalf("expected 10 (5 + last_result of 5), got %v", result)
	}
}

func TestCalculatorSubtractWithExplicitOperands(t *testing.T) {
	reg := newRegistry(t)
	target, _ := reg.Resolve("calculator.subtract")
	method, _ := target.Type.Method(target.Tail)
	instance := target.Type.New()

	result, err := method(instance, []any{10.0, 4.0}, nil)
	if err != nil {
		t.Fatalf("subtract: %v", err)
	}
	if result != 6.0 {
		t.Fatalf("expected 6, got %v", result)
	}
}

func TestCalculatorIsSingletonAcrossResolves(t *testing.T) {
	reg := newRegistry(t)
	target, _ := reg.Resolve("calculator.add")
	if target.Type.Policy() != registry.Singleton {
		t.Fatal("expected calculator to be registered Singleton")
	}
}

func TestResourceHTTPGetListsIDs(t *testing.T) {
	reg := newRegistry(t)
	target, err := reg.Resolve("resource.http_get")
	if err != nil {
		t.Fatalf("expected resource.http_get to resolve: %v", err)
	}
	if target.Type.Policy() != registry.PerCall {
		t.Fatal("expected resource to be registered PerCall")
	}
	method, _ := target.Type.Method(target.Tail)
	instance := target.Type.New()

	result, err := method(instance, nil, nil)
	if err != nil {
		t.Fatalf("http_get: %v", err)
	}
	ids, ok := result.([]int)
	if !ok || len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", result)
	}
}

func TestResourceHTTPGetFetchesSingleItem(t *testing.T) {
	reg := newRegistry(t)
	target, _ := reg.Resolve("resource.http_get")
	method, _ := target.Type.Method(target.Tail)
	instance := target.Type.New()

	result, err := method(instance, []any{2.0}, nil)
	if err != nil {
		t.Fatalf("http_get: %v", err)
	}
	it, ok := result.(item)
	if !ok || it.Name != "Thing B" {
		t.Fatalf("expected Thing B, got %v", result)
	}
}

// TestCalculatorAddAcceptsJSONStringArgs guards against toFloat regressing
// on the string-typed arguments a gateway actually produces (path
// segments and REST discovery-walk tail elements are JSON-encoded as
// strings, not numbers, before worker.decodeArgs hands them to a method).
func TestCalculatorAddAcceptsJSONStringArgs(t *testing.T) {
	reg := newRegistry(t)
	target, err := reg.Resolve("calculator.add")
	if err != nil {
		t.Fatalf("expected calculator.add to resolve: %v", err)
	}
	method, _ := target.Type.Method(target.Tail)
	instance := target.Type.New()

	op1 := jsonRoundTrip(t, "2")
	op2 := jsonRoundTrip(t, "3")

	result, err := method(instance, []any{op1, op2}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if result != 5.0 {
		t.Fatalf("expected 5, got %v", result)
	}
}

// TestResourceHTTPGetAcceptsJSONStringArg is the same guard for the REST
// demo resource's item id.
func TestResourceHTTPGetAcceptsJSONStringArg(t *testing.T) {
	reg := newRegistry(t)
	target, _ := reg.Resolve("resource.http_get")
	method, _ := target.Type.Method(target.Tail)
	instance := target.Type.New()

	id := jsonRoundTrip(t, "2")

	result, err := method(instance, []any{id}, nil)
	if err != nil {
		t.Fatalf("http_get: %v", err)
	}
	it, ok := result.(item)
	if !ok || it.Name != "Thing B" {
		t.Fatalf("expected Thing B, got %v", result)
	}
}
