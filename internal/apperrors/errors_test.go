package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusCodeMapsEveryKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not_found", ProjectDoesNotExist("p"), http.StatusNotFound},
		{"conflict", ProjectAlreadyExists("p"), http.StatusConflict},
		{"precondition", ExecutionHasAlreadyStarted("e"), http.StatusConflict},
		{"validation", ProjectNameIsTooLong("p"), http.StatusBadRequest},
		{"auth", ApiKeyIsInvalid(), http.StatusForbidden},
		{"non-apperror", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StatusCode(c.err); got != c.want {
				t.Fatalf("StatusCode(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestErrorMessageIsHumanReadable(t *testing.T) {
	err := FunctionDoesNotExist("proj1", "ver1", "fn1")
	if err.Error() != "function does not exist: proj1/ver1/fn1" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
