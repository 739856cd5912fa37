package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify_Nil(t *testing.T) {
	if err := Classify("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestClassify_SyntaxErrorIsQuery(t *testing.T) {
	err := Classify("formulary by drug", &pgconn.PgError{Code: "42601", Message: "syntax error"})
	if !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("syntax error must not be unavailable")
	}
}

func TestClassify_DataExceptionIsQuery(t *testing.T) {
	err := Classify("op", &pgconn.PgError{Code: "22P02"})
	if !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery, got %v", err)
	}
}

func TestClassify_ConnectionFailureIsUnavailable(t *testing.T) {
	err := Classify("op", &pgconn.PgError{Code: "08006"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	err = Classify("op", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	err := Classify("op", fmt.Errorf("query: %w", context.Canceled))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected the original context error to stay reachable")
	}
}

func TestClassify_DoesNotDoubleWrap(t *testing.T) {
	first := Classify("inner", &pgconn.PgError{Code: "42P01"})
	second := Classify("outer", fmt.Errorf("wrapped: %w", first))

	var se *StoreError
	if !errors.As(second, &se) {
		t.Fatal("expected StoreError")
	}
	if se.Op != "inner" {
		t.Errorf("expected op inner, got %s", se.Op)
	}
	if !errors.Is(second, ErrQuery) {
		t.Error("expected classification to survive")
	}
}

func TestStoreError_Message(t *testing.T) {
	err := Classify("plans by formularies", errors.New("boom"))
	want := "plans by formularies: store unavailable: boom"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
