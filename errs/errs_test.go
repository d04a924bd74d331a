package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesComponentAndDetails(t *testing.T) {
	err := New(
		"transactions",
		CodeOrder,
		WithMessage("insufficient buying power"),
		WithSymbol("AAPL"),
		WithOrderID(7),
		WithCause(errors.New("margin remaining 12.50")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=transactions") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=order") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "symbol=AAPL") {
		t.Fatalf("expected symbol in error string: %s", out)
	}
	if !strings.Contains(out, "order=7") {
		t.Fatalf("expected order id in error string: %s", out)
	}
	if !strings.Contains(out, `message="insufficient buying power"`) {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, `cause="margin remaining 12.50"`) {
		t.Fatalf("expected cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("zip entry truncated")
	err := New("feed", CodeData, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see the cause")
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := New("brokerage", CodeOrder, WithMessage("rejected"))
	outer := New("engine", CodeRuntime, WithCause(fmt.Errorf("step failed: %w", inner)))

	if !IsCode(outer, CodeRuntime) {
		t.Fatal("expected outer code to match")
	}
	if !IsCode(outer, CodeOrder) {
		t.Fatal("expected wrapped code to match")
	}
	if IsCode(outer, CodeConfiguration) {
		t.Fatal("unexpected code match")
	}
	if IsCode(errors.New("plain"), CodeRuntime) {
		t.Fatal("plain errors carry no code")
	}
}

func TestNilErrorString(t *testing.T) {
	var err *E
	if err.Error() != "<nil>" {
		t.Fatalf("unexpected nil formatting: %s", err.Error())
	}
}
