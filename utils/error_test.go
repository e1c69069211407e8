package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Unauthenticated("no token"), http.StatusUnauthorized},
		{Unauthorized("role"), http.StatusForbidden},
		{NotFound("sale not found"), http.StatusNotFound},
		{Validation("not deleted"), http.StatusBadRequest},
		{ExternalSystem("ledger", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
		{ErrorRecordNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("link: %w", Validation("already linked or deleted"))
	if KindOf(err) != KindValidation {
		t.Fatalf("got %s", KindOf(err))
	}
	if PublicMessage(err) != "already linked or deleted" {
		t.Fatalf("got %q", PublicMessage(err))
	}
	if !errors.Is(NotFound("x"), ErrorRecordNotFound) {
		t.Fatalf("NotFound should wrap ErrorRecordNotFound")
	}
}

func TestPublicMessageHidesInternal(t *testing.T) {
	if got := PublicMessage(Internal("db", errors.New("dsn leaked"))); got != "internal error" {
		t.Fatalf("got %q", got)
	}
	if got := PublicMessage(errors.New("raw")); got != "internal error" {
		t.Fatalf("got %q", got)
	}
}
