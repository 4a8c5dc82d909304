package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(recognize, operation string) *Client {
	c := NewClient("test-key", "ru-RU", 10*time.Millisecond)
	c.recognizeURL = recognize
	c.operationURL = operation
	return c
}

func TestTranscribe(t *testing.T) {
	var polls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Api-Key test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		audio := body["audio"].(map[string]any)
		assert.Contains(t, audio["uri"], "audio/task-1.mp3")

		json.NewEncoder(w).Encode(map[string]string{"id": "op-123"})
	})
	mux.HandleFunc("/operations/", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "op-123"))
		// 前两次未完成，第三次返回结果
		if atomic.AddInt32(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(map[string]any{"done": false})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"done": true,
			"response": map[string]any{
				"chunks": []map[string]any{
					{"alternatives": []map[string]any{{"text": "第一段"}}},
					{"alternatives": []map[string]any{{"text": "第二段"}}},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL+"/recognize", srv.URL+"/operations/")

	text, err := c.Transcribe(context.Background(), "https://storage.example.com/audio/task-1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "第一段 第二段", text)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestTranscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL+"/operations/")

	_, err := c.Transcribe(context.Background(), "https://storage.example.com/audio/x.mp3")
	// 4xx 是服务明确拒绝，永久失败
	assert.ErrorIs(t, err, ErrRecognitionRejected)
}

func TestTranscribeOperationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "op-err"})
	})
	mux.HandleFunc("/operations/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"done":  true,
			"error": map[string]any{"code": 3, "message": "audio format not supported"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL+"/recognize", srv.URL+"/operations/")

	_, err := c.Transcribe(context.Background(), "https://storage.example.com/audio/x.mp3")
	assert.ErrorIs(t, err, ErrRecognitionRejected)
}

func TestTranscribeContextTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "op-slow"})
	})
	mux.HandleFunc("/operations/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"done": false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL+"/recognize", srv.URL+"/operations/")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transcribe(ctx, "https://storage.example.com/audio/x.mp3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
