package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	applog "github.com/chaos-io/rembg-api/logger"
	"github.com/chaos-io/rembg-api/rembg"
	"github.com/chaos-io/rembg-api/util"
)

const (
	formFileField      = "input_file"
	contentDisposition = "attachment; filename=output.png"
)

type RemoveHandler struct {
	remover rembg.Remover
	encode  func(io.Writer, image.Image) error
	logger  *zap.Logger
}

func NewRemoveHandler(remover rembg.Remover, logger *zap.Logger) *RemoveHandler {
	return &RemoveHandler{
		remover: remover,
		encode:  util.EncodePNG,
		logger:  logger,
	}
}

// RemoveBackground godoc
//
//	@Summary		Remove image background
//	@Description	Upload an image and get it back as a PNG with the background made transparent.
//	@Tags			rembg
//	@Accept			multipart/form-data
//	@Produce		png
//	@Security		ApiKeyAuth
//	@Param			X-API-Key	header		string	true	"API key"
//	@Param			input_file	formData	file	true	"Input image"
//	@Success		200			{file}		binary
//	@Failure		400			{object}	MessageResponse
//	@Failure		404			{object}	MessageResponse
//	@Failure		500			{object}	MessageResponse
//	@Router			/remove_background/ [put]
func (h *RemoveHandler) RemoveBackground(c *gin.Context) {
	logger := h.logger.With(zap.String(requestIDKey, requestID(c)))

	data, err := readUpload(c)
	if err != nil {
		logger.Warn("failed to read upload", zap.Error(err))
		abortWithError(c, errReadInput)
		return
	}

	ctx := applog.NewContext(c.Request.Context(), logger)
	out, apiErr := h.process(ctx, logger, data)
	if apiErr != nil {
		abortWithError(c, apiErr)
		return
	}

	c.Header("Content-Disposition", contentDisposition)
	c.Data(http.StatusOK, "image/png", out)
}

// process 解码 -> 抠图 -> 编码，每一步失败对应不同的错误
func (h *RemoveHandler) process(ctx context.Context, logger *zap.Logger, data []byte) ([]byte, *apiError) {
	img, format, err := util.DecodeImage(data)
	if err != nil {
		logger.Warn("failed to decode input image", zap.Int("bytes", len(data)), zap.Error(err))
		return nil, errReadInput
	}

	result, err := h.remove(ctx, logger, img)
	if err != nil {
		logger.Error("failed to remove background", zap.String("format", format), zap.Error(err))
		return nil, errProcess
	}

	var buf bytes.Buffer
	if err := h.encode(&buf, result); err != nil {
		logger.Error("failed to encode output image", zap.Error(err))
		return nil, errSave
	}

	logger.Debug("background removed",
		zap.String("format", format),
		zap.Int("width", result.Bounds().Dx()),
		zap.Int("height", result.Bounds().Dy()),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

func (h *RemoveHandler) remove(ctx context.Context, logger *zap.Logger, img image.Image) (image.Image, error) {
	defer util.Trace(logger, "remove background")()

	result, err := h.remover.Remove(ctx, img)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, rembg.ErrEmptyResult
	}
	return result, nil
}

func readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(formFileField)
	if err != nil {
		return nil, fmt.Errorf("form file %s: %w", formFileField, err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return io.ReadAll(f)
}
