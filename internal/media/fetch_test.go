package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSourceRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{name: "https url", ref: "https://example.com/lecture.mp4", wantErr: false},
		{name: "http url", ref: "http://example.com/lecture.mp4", wantErr: false},
		{name: "yandex disk link", ref: "https://disk.yandex.ru/i/abc123", wantErr: false},
		{name: "ftp scheme", ref: "ftp://example.com/lecture.mp4", wantErr: true},
		{name: "no host", ref: "https:///lecture.mp4", wantErr: true},
		{name: "empty", ref: "", wantErr: true},
		{name: "garbage", ref: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsYandexDiskLink(t *testing.T) {
	assert.True(t, IsYandexDiskLink("https://disk.yandex.ru/i/abc123"))
	assert.True(t, IsYandexDiskLink("https://disk.yandex.com/d/xyz"))
	assert.True(t, IsYandexDiskLink("https://yadi.sk/d/abc"))
	assert.True(t, IsYandexDiskLink("https://disk.360.yandex.ru/d/abc"))
	assert.False(t, IsYandexDiskLink("https://example.com/lecture.mp4"))
	assert.False(t, IsYandexDiskLink("https://disk.yandex.ru/other/abc"))
}

func TestFetchDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "video.mp4")
	f := NewFetcher(5 * time.Second)

	err := f.Fetch(context.Background(), srv.URL+"/lecture.mp4", dest)
	require.NoError(t, err)

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(b))
}

func TestFetchSourceGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "video.mp4")
	f := NewFetcher(5 * time.Second)

	err := f.Fetch(context.Background(), srv.URL+"/gone.mp4", dest)
	// 4xx 是永久失败
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestFetchDiskLinkResolves(t *testing.T) {
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}))
	defer fileSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("public_key"))
		w.Write([]byte(`{"href":"` + fileSrv.URL + `/direct.mp4"}`))
	}))
	defer apiSrv.Close()

	dest := filepath.Join(t.TempDir(), "video.mp4")
	f := NewFetcher(5 * time.Second)
	f.diskAPI = apiSrv.URL

	err := f.Fetch(context.Background(), "https://disk.yandex.ru/i/abc123", dest)
	require.NoError(t, err)

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(b))
}

func TestPreflight(t *testing.T) {
	t.Run("dead disk link", func(t *testing.T) {
		apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer apiSrv.Close()

		f := NewFetcher(5 * time.Second)
		f.diskAPI = apiSrv.URL

		err := f.Preflight(context.Background(), "https://disk.yandex.ru/i/dead")
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("plain url skipped", func(t *testing.T) {
		f := NewFetcher(5 * time.Second)
		// 普通链接不预检，留给 fetch 阶段兜底
		assert.NoError(t, f.Preflight(context.Background(), "https://example.com/lecture.mp4"))
	})

	t.Run("api flaky is not rejection", func(t *testing.T) {
		apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer apiSrv.Close()

		f := NewFetcher(5 * time.Second)
		f.diskAPI = apiSrv.URL

		assert.NoError(t, f.Preflight(context.Background(), "https://disk.yandex.ru/i/abc"))
	})
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "video.mp4")
	f := NewFetcher(5 * time.Second)

	err := f.Fetch(context.Background(), srv.URL+"/flaky.mp4", dest)
	require.Error(t, err)
	// 5xx 不归类为源不可用，留给上层按瞬时错误重试
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}
