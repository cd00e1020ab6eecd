package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/rembg-api/util"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

// ServerRemover 调用 rembg 自带的 HTTP 服务（`rembg s`）
type ServerRemover struct {
	baseURL string
	model   string
	cli     nhttp.IClient
}

func NewServerRemover(baseURL, model string, cli nhttp.IClient) *ServerRemover {
	return &ServerRemover{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		cli:     cli,
	}
}

/*
	curl -X POST "$REMBG_URL/api/remove?model=u2net" \
	  -F "file=@my_image.png" -o output.png
*/
func (s *ServerRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := util.PNGBytes(img)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", ksuid.New().String()+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	uri := s.baseURL + "/api/remove"
	if s.model != "" {
		uri += "?" + url.Values{"model": {s.model}}.Encode()
	}

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: uri,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	result, _, err := util.DecodeImage(out)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return result, nil
}

// Ping rembg 服务的文档页在 /api
func (s *ServerRemover) Ping(ctx context.Context) error {
	return s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.baseURL + "/api",
		Method:     http.MethodGet,
	})
}
