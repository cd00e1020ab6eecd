package rembg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	applog "github.com/chaos-io/rembg-api/logger"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

// fakeComfyUI 模拟 ComfyUI 的 upload/prompt/history/view 接口
type fakeComfyUI struct {
	t *testing.T

	mu       sync.Mutex
	uploaded []byte
	prompt   map[string]map[string]any

	pendingPolls int32
	historyState string // success, error, empty
	nodeErrors   bool
	polls        atomic.Int32
}

func (f *fakeComfyUI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/upload/image", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "input", r.FormValue("type"))
		assert.Equal(f.t, "true", r.FormValue("overwrite"))
		file, header, err := r.FormFile("image")
		require.NoError(f.t, err)
		defer func() {
			_ = file.Close()
		}()
		assert.True(f.t, strings.HasSuffix(header.Filename, ".png"))

		f.mu.Lock()
		f.uploaded = []byte(header.Filename)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"name": header.Filename, "subfolder": "rembg", "type": "input"})
	})

	mux.HandleFunc("/api/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt   map[string]map[string]any `json:"prompt"`
			ClientID string                    `json:"client_id"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(f.t, body.ClientID)

		f.mu.Lock()
		f.prompt = body.Prompt
		f.mu.Unlock()

		if f.nodeErrors {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"prompt_id":   "p-1",
				"node_errors": map[string]any{"2": "missing model"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-1", "number": 3, "node_errors": map[string]any{}})
	})

	mux.HandleFunc("/api/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		if f.polls.Add(1) <= f.pendingPolls {
			_, _ = w.Write([]byte(`{}`))
			return
		}

		switch f.historyState {
		case "error":
			_, _ = w.Write([]byte(`{"p-1": {"outputs": {}, "status": {"status_str": "error", "completed": false}}}`))
		case "empty":
			_, _ = w.Write([]byte(`{"p-1": {"outputs": {}, "status": {"status_str": "success", "completed": true}}}`))
		default:
			_, _ = w.Write([]byte(`{"p-1": {"outputs": {"3": {"images": [{"filename": "rembg_00001_.png", "subfolder": "", "type": "output"}]}}, "status": {"status_str": "success", "completed": true}}}`))
		}
	})

	mux.HandleFunc("/api/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "rembg_00001_.png", r.URL.Query().Get("filename"))
		assert.Equal(f.t, "output", r.URL.Query().Get("type"))
		writeCutoutPNG(f.t, w, opaqueImage(8, 8))
	})

	mux.HandleFunc("/api/system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"system": {"os": "posix"}, "devices": []}`))
	})

	return mux
}

func TestComfyUIRemover_Remove(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{t: t, pendingPolls: 2}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), zap.NewNop(), WithPollInterval(10*time.Millisecond))
	got, err := remover.Remove(context.Background(), opaqueImage(8, 8))
	require.NoError(t, err)

	assert.Equal(t, 8, got.Bounds().Dx())
	_, _, _, a := got.At(0, 0).RGBA()
	assert.Zero(t, a)
	_, _, _, a = got.At(7, 7).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, int32(3), fake.polls.Load())

	// 上传后的文件名（含子目录）被写进 LoadImage 节点
	fake.mu.Lock()
	defer fake.mu.Unlock()
	inputs := fake.prompt[loadImageNode]["inputs"].(map[string]any)
	assert.Equal(t, "rembg/"+string(fake.uploaded), inputs["image"])
	assert.Equal(t, "SaveImage", fake.prompt[saveImageNode]["class_type"])
}

func TestComfyUIRemover_RemoveErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fake       *fakeComfyUI
		wantErrMsg string
	}{
		{name: "节点错误", fake: &fakeComfyUI{nodeErrors: true}, wantErrMsg: "node errors"},
		{name: "执行失败", fake: &fakeComfyUI{historyState: "error"}, wantErrMsg: "failed"},
		{name: "没有输出", fake: &fakeComfyUI{historyState: "empty"}, wantErrMsg: "without output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tt.fake.t = t
			server := httptest.NewServer(tt.fake.handler())
			defer server.Close()

			remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), zap.NewNop(), WithPollInterval(10*time.Millisecond))
			_, err := remover.Remove(context.Background(), opaqueImage(2, 2))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErrMsg)
		})
	}
}

func TestComfyUIRemover_RemoveContextCanceled(t *testing.T) {
	t.Parallel()

	// history 永远为空，只能靠 ctx 结束
	fake := &fakeComfyUI{t: t, pendingPolls: 1 << 30}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), zap.NewNop(), WithPollInterval(10*time.Millisecond))
	_, err := remover.Remove(ctx, opaqueImage(2, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestComfyUIRemover_RemovePromptLost(t *testing.T) {
	t.Parallel()

	// ComfyUI 重启后 prompt 丢失，history 永远是 {}，调用方的 ctx 也没有超时
	fake := &fakeComfyUI{t: t, pendingPolls: 1 << 30}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), zap.NewNop(),
		WithPollInterval(10*time.Millisecond),
		WithWaitTimeout(150*time.Millisecond),
	)

	start := time.Now()
	_, err := remover.Remove(context.Background(), opaqueImage(2, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Greater(t, fake.polls.Load(), int32(1))
}

func TestNewComfyUIRemover_Options(t *testing.T) {
	t.Parallel()

	remover := NewComfyUIRemover("http://comfy:8188/", nhttp.NewHTTPClient(), nil)
	assert.Equal(t, "http://comfy:8188", remover.baseURL)
	assert.Equal(t, defaultPollInterval, remover.pollInterval)
	assert.Equal(t, defaultWaitTimeout, remover.waitTimeout)
	assert.NotNil(t, remover.logger)

	// 非正数不覆盖默认值
	remover = NewComfyUIRemover("http://comfy:8188", nhttp.NewHTTPClient(), nil,
		WithPollInterval(0),
		WithWaitTimeout(-time.Second),
	)
	assert.Equal(t, defaultPollInterval, remover.pollInterval)
	assert.Equal(t, defaultWaitTimeout, remover.waitTimeout)
}

func TestComfyUIRemover_RemoveLogsWithRequestLogger(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	reqLogger := zap.New(core).With(zap.String("request_id", "req-42"))

	remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), zap.NewNop(), WithPollInterval(10*time.Millisecond))
	_, err := remover.Remove(applog.NewContext(context.Background(), reqLogger), opaqueImage(2, 2))
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("request_id", "req-42")).All()
	require.Len(t, entries, 2)
	assert.Equal(t, "uploaded image to comfyui", entries[0].Message)
	assert.Equal(t, "queued comfyui prompt", entries[1].Message)
}

func TestComfyUIRemover_Ping(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	remover := NewComfyUIRemover(server.URL, nhttp.NewHTTPClient(), nil)
	assert.NoError(t, remover.Ping(context.Background()))
}
