package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wuwenbin0122/promptrelay/internal/auth"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		err    error
	}{
		{header: "Bearer abc123", want: "abc123"},
		{header: "bearer   abc123  ", want: "abc123"},
		{header: "", err: auth.ErrMissingToken},
		{header: "Bearer", err: auth.ErrMissingToken},
		{header: "Bearer    ", err: auth.ErrMissingToken},
		{header: "Basic dXNlcjpwYXNz", err: auth.ErrMissingToken},
	}

	for _, tc := range cases {
		got, err := auth.BearerToken(tc.header)
		if !errors.Is(err, tc.err) {
			t.Fatalf("header %q: expected error %v, got %v", tc.header, tc.err, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: expected token %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestSubjectReadsUnverifiedClaims(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if got := auth.Subject(signed); got != "user-42" {
		t.Fatalf("expected subject user-42, got %q", got)
	}

	if got := auth.Subject("opaque-token"); got != "" {
		t.Fatalf("expected empty subject for opaque token, got %q", got)
	}
}
