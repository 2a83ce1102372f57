package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizpilot/internal/domain"
	"quizpilot/internal/retry"
)

func TestSubmitEndpoint(t *testing.T) {
	cases := []struct {
		quizURL string
		want    string
	}{
		{"https://quiz.example.com/q/abc123", "https://quiz.example.com/q/submit"},
		{"https://quiz.example.com/abc123", "https://quiz.example.com/submit"},
		{"https://quiz.example.com/a/b/c?x=1", "https://quiz.example.com/a/b/submit"},
	}

	for _, tc := range cases {
		got, err := SubmitEndpoint(tc.quizURL)
		if err != nil {
			t.Fatalf("SubmitEndpoint(%q) failed: %v", tc.quizURL, err)
		}
		if got != tc.want {
			t.Errorf("SubmitEndpoint(%q) = %q, want %q", tc.quizURL, got, tc.want)
		}
	}
}

func TestSubmitEndpoint_RelativeURLRejected(t *testing.T) {
	if _, err := SubmitEndpoint("/q/abc"); err == nil {
		t.Error("Expected error for non-absolute quiz URL")
	}
}

func TestSubmitClient_PostsPayload(t *testing.T) {
	var received struct {
		Email  string          `json:"email"`
		Secret string          `json:"secret"`
		URL    string          `json:"url"`
		Answer json.RawMessage `json:"answer"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/q/submit" {
			t.Errorf("Expected /q/submit, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode submission: %v", err)
		}
		correct := true
		_ = json.NewEncoder(w).Encode(SubmitResult{Correct: &correct})
	}))
	defer srv.Close()

	client := NewSubmitClient("learner@example.com", "s3cret", time.Second)
	result, err := client.Submit(context.Background(), srv.URL+"/q/abc", domain.NumberAnswer(4))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Correct == nil || !*result.Correct {
		t.Errorf("Expected correct verdict, got %+v", result)
	}
	if received.Email != "learner@example.com" || received.Secret != "s3cret" {
		t.Errorf("Credentials not forwarded: %+v", received)
	}
	if string(received.Answer) != "4" {
		t.Errorf("Answer not forwarded as bare value: %s", received.Answer)
	}
}

func TestSubmitClient_AmbiguousResponseDecodesNilVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reason": "pending review"}`))
	}))
	defer srv.Close()

	client := NewSubmitClient("a@b.c", "s", time.Second)
	result, err := client.Submit(context.Background(), srv.URL+"/q/x", domain.StringAnswer("hi"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Correct != nil {
		t.Errorf("Expected nil verdict for ambiguous response, got %v", *result.Correct)
	}
}

func TestSubmitClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewSubmitClient("a@b.c", "s", time.Second)
	_, err := client.Submit(context.Background(), srv.URL+"/q/x", domain.StringAnswer("hi"))
	if err == nil {
		t.Fatal("Expected error for 502")
	}
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		t.Error("5xx must be transient, not permanent")
	}
}

func TestSubmitClient_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewSubmitClient("a@b.c", "s", time.Second)
	_, err := client.Submit(context.Background(), srv.URL+"/q/x", domain.StringAnswer("hi"))
	if err == nil {
		t.Fatal("Expected error for 403")
	}
	// The permanent marker is peeled off by the retry layer; here we see the
	// wrapper itself.
	var perm *retry.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("4xx must be permanent, got %v", err)
	}
}

func TestResolveNextURL(t *testing.T) {
	cases := []struct {
		current string
		next    string
		want    string
	}{
		{"https://q.example.com/a/b", "https://q.example.com/a/c", "https://q.example.com/a/c"},
		{"https://q.example.com/a/b", "/a/c", "https://q.example.com/a/c"},
		{"https://q.example.com/a/b", "c", "https://q.example.com/a/c"},
		{"https://q.example.com/a/b", "", ""},
	}

	for _, tc := range cases {
		if got := ResolveNextURL(tc.current, tc.next); got != tc.want {
			t.Errorf("ResolveNextURL(%q, %q) = %q, want %q", tc.current, tc.next, got, tc.want)
		}
	}
}
