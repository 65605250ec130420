package glm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/stupiduntilnot/glmrelay/internal/model"
)

func TestComplete_SendsHistoryThenPrompt(t *testing.T) {
	var got chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  Hello!  "}},
			},
			"usage": map[string]any{"prompt_tokens": 42, "completion_tokens": 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient("test-key", Options{URL: server.URL, Model: "glm-test"})
	history := []model.Message{model.User("prev"), model.Assistant("answer")}
	result, err := client.Complete(context.Background(), "next", history)
	if err != nil {
		t.Fatal(err)
	}

	testboil.FailTestIfDiff(t, result.Content, "  Hello!  ")
	testboil.FailTestIfDiff(t, result.InputTokens, 42)
	testboil.FailTestIfDiff(t, result.OutputTokens, 7)
	testboil.FailTestIfDiff(t, auth, "Bearer test-key")
	testboil.FailTestIfDiff(t, got.Model, "glm-test")
	testboil.FailTestIfDiff(t, got.Temperature, 0.7)
	testboil.FailTestIfDiff(t, got.MaxTokens, 4096)
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	if got.Messages[2].Role != model.RoleUser || got.Messages[2].Content != "next" {
		t.Fatalf("expected prompt last, got %+v", got.Messages[2])
	}
	if got.Messages[1].Role != model.RoleAssistant {
		t.Fatalf("expected history order preserved, got %+v", got.Messages)
	}
}

func TestComplete_KeepsReplyVerbatim(t *testing.T) {
	const code = "    def f():\n        pass\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": code}}},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", Options{URL: server.URL})
	result, err := client.Complete(context.Background(), "write f", nil)
	if err != nil {
		t.Fatal(err)
	}
	testboil.FailTestIfDiff(t, result.Content, code)
}

func TestComplete_WhitespaceOnlyIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" \n\t "}}]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{URL: server.URL})
	_, err := client.Complete(context.Background(), "hi", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestComplete_SignedCredential(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewClient("id123.secretkey", Options{URL: server.URL, Signed: true})
	if _, err := client.Complete(context.Background(), "hi", nil); err != nil {
		t.Fatal(err)
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if strings.Count(token, ".") != 2 || token == "id123.secretkey" {
		t.Fatalf("expected signed token, got %q", auth)
	}
}

func TestComplete_NotConfiguredMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient("", Options{URL: server.URL})
	_, err := client.Complete(context.Background(), "hi", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	testboil.FailTestIfDiff(t, calls.Load(), int32(0))
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":0}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{URL: server.URL})
	_, err := client.Complete(context.Background(), "hi", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	testboil.FailTestIfDiff(t, Classify(err), KindEmpty)
}

func TestComplete_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{URL: server.URL})
	_, err := client.Complete(context.Background(), "hi", nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	testboil.FailTestIfDiff(t, Classify(err), KindOther)
}

func TestComplete_StatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"1002","message":"Authorization Token非法"}}`, KindAuth},
		{"plain 401", http.StatusUnauthorized, `unauthorized`, KindAuth},
		{"balance code", http.StatusTooManyRequests, `{"error":{"code":"1113","message":"您的账户已欠费"}}`, KindBalance},
		{"balance text", http.StatusBadRequest, `{"error":{"message":"insufficient balance"}}`, KindBalance},
		{"model code", http.StatusBadRequest, `{"error":{"code":"1211","message":"模型不存在"}}`, KindModelNotFound},
		{"model text", http.StatusNotFound, `{"error":{"message":"The model glm-x does not exist"}}`, KindModelNotFound},
		{"numeric code", http.StatusBadRequest, `{"error":{"code":1211,"message":"x"}}`, KindModelNotFound},
		{"server error", http.StatusInternalServerError, `boom`, KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient("test-key", Options{URL: server.URL})
			_, err := client.Complete(context.Background(), "hi", nil)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			testboil.FailTestIfDiff(t, se.StatusCode, tc.status)
			testboil.FailTestIfDiff(t, Classify(err), tc.want)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient("test-key", Options{URL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), "hi", nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	testboil.FailTestIfDiff(t, Classify(err), KindTimeout)
}

func TestComplete_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient("test-key", Options{URL: url})
	_, err := client.Complete(context.Background(), "hi", nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	testboil.FailTestIfDiff(t, Classify(err), KindOther)
}

func TestClassify_Nil(t *testing.T) {
	testboil.FailTestIfDiff(t, Classify(nil), KindNone)
}
