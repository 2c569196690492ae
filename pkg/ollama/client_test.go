package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost"); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestQuery(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Format   string `json:"format"`
		Messages []struct {
			Content string   `json:"content"`
			Images  []string `json:"images"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"{\"polygon\":[]}"},"done":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatal(err)
	}
	img := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	out, err := c.Query(context.Background(), "m", "trace it", img)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if out != `{"polygon":[]}` {
		t.Errorf("Query() = %q", out)
	}
	if got.Model != "m" || got.Format != "json" {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "trace it" || len(got.Messages[0].Images) != 1 {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestQueryBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query(context.Background(), "m", "p", "!!!not base64"); err == nil {
		t.Error("expected base64 error")
	}
}

func TestModelOptions(t *testing.T) {
	if _, ok := modelOptions("llava")["num_ctx"]; ok {
		t.Error("generic models keep the default context")
	}
	if modelOptions("openbmb/minicpm-v4.5")["num_ctx"] != 4096 {
		t.Error("minicpm models need a larger context")
	}
}
