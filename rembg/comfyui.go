package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	applog "github.com/chaos-io/rembg-api/logger"
	"github.com/chaos-io/rembg-api/util"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

const (
	// workflow.json 中的节点编号
	loadImageNode = "1"
	saveImageNode = "3"

	defaultPollInterval = 500 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Minute
)

//go:embed workflow.json
var workflowData []byte

// ComfyUIRemover 通过 ComfyUI 的 BiRefNet 工作流抠图
type ComfyUIRemover struct {
	baseURL      string
	clientID     string
	pollInterval time.Duration
	waitTimeout  time.Duration
	cli          nhttp.IClient
	logger       *zap.Logger
}

type ComfyUIOption func(*ComfyUIRemover)

// WithPollInterval 轮询 /api/history 的间隔
func WithPollInterval(interval time.Duration) ComfyUIOption {
	return func(b *ComfyUIRemover) {
		if interval > 0 {
			b.pollInterval = interval
		}
	}
}

// WithWaitTimeout 从提交 prompt 到拿到输出的总时长上限
func WithWaitTimeout(timeout time.Duration) ComfyUIOption {
	return func(b *ComfyUIRemover) {
		if timeout > 0 {
			b.waitTimeout = timeout
		}
	}
}

func NewComfyUIRemover(baseURL string, cli nhttp.IClient, logger *zap.Logger, opts ...ComfyUIOption) *ComfyUIRemover {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ComfyUIRemover{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     ksuid.New().String(),
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		cli:          cli,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ComfyUIRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	name, err := b.uploadImage(ctx, img)
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, name)
	if err != nil {
		return nil, err
	}

	out, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	data, err := b.view(ctx, out)
	if err != nil {
		return nil, err
	}

	result, _, err := util.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return result, nil
}

func (b *ComfyUIRemover) Ping(ctx context.Context) error {
	return b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/system_stats",
		Method:     http.MethodGet,
		Response:   &map[string]any{},
	})
}

type imageRef struct {
	Name      string `json:"name,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *ComfyUIRemover) uploadImage(ctx context.Context, img image.Image) (string, error) {
	data, err := util.PNGBytes(img)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", ksuid.New().String()+".png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	resp := &imageRef{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return "", errors.New("upload image: empty file name in response")
	}

	applog.FromContext(ctx, b.logger).Debug("uploaded image to comfyui", zap.String("name", resp.Name), zap.String("subfolder", resp.Subfolder))

	if resp.Subfolder != "" {
		return path.Join(resp.Subfolder, resp.Name), nil
	}
	return resp.Name, nil
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"', "client_id": "..."}'
*/
func (b *ComfyUIRemover) prompt(ctx context.Context, imageName string) (string, error) {
	wk := map[string]map[string]any{}
	if err := json.Unmarshal(workflowData, &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	inputs, ok := wk[loadImageNode]["inputs"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("workflow node %s has no inputs", loadImageNode)
	}
	inputs["image"] = imageName

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/prompt",
		Method:     http.MethodPost,
		Body:       map[string]any{"prompt": wk, "client_id": b.clientID},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}

	applog.FromContext(ctx, b.logger).Debug("queued comfyui prompt", zap.String("prompt_id", resp.PromptID), zap.Int("number", resp.Number))
	return resp.PromptID, nil
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// waitOutput 轮询 /api/history 直到 SaveImage 节点有输出，总时长不超过 waitTimeout
//
// ComfyUI 重启后 prompt 会丢失，history 一直为空，只能靠超时结束。
func (b *ComfyUIRemover) waitOutput(ctx context.Context, promptID string) (imageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, b.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + "/api/history/" + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return imageRef{}, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return imageRef{}, fmt.Errorf("prompt %s failed", promptID)
			}
			if images := entry.Outputs[saveImageNode].Images; len(images) > 0 {
				return images[0], nil
			}
			if entry.Status.Completed {
				return imageRef{}, fmt.Errorf("prompt %s completed without output", promptID)
			}
		}

		select {
		case <-ctx.Done():
			return imageRef{}, fmt.Errorf("wait prompt %s: %w", promptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *ComfyUIRemover) view(ctx context.Context, ref imageRef) ([]byte, error) {
	query := url.Values{
		"filename":  {ref.Filename},
		"subfolder": {ref.Subfolder},
		"type":      {ref.Type},
	}

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/view?" + query.Encode(),
		Method:     http.MethodGet,
		Response:   &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view image: %w", err)
	}
	return data, nil
}
