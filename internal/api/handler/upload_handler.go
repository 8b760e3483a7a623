package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/cuongbtq/sof-extractor/internal/api/dto"
	"github.com/cuongbtq/sof-extractor/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const enhancedParam = "use_enhanced_processing"

// Upload handles POST /api/upload
// Accepts one or more documents under the "files" field
func (h *JobHandler) Upload(c *gin.Context) {
	h.submit(c, "files", false)
}

// UploadSingle handles POST /api/upload-single
func (h *JobHandler) UploadSingle(c *gin.Context) {
	h.submit(c, "file", false)
}

// UploadBatch handles POST /api/upload-batch
// Same as Upload plus a batch label and the batch file cap
func (h *JobHandler) UploadBatch(c *gin.Context) {
	h.submit(c, "files", true)
}

func (h *JobHandler) submit(c *gin.Context, field string, batch bool) {
	h.logger.Info("Upload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	form, err := c.MultipartForm()
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.logger.Error("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form",
		})
		return
	}

	enhanced, err := parseEnhanced(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": enhancedParam + " must be a boolean",
		})
		return
	}

	var headers []*multipart.FileHeader
	if form != nil {
		headers = form.File[field]
	}

	files, err := h.readFiles(headers)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read uploaded file",
		})
		return
	}

	sub := upload.Submission{
		Files:    files,
		Enhanced: enhanced,
		Batch:    batch,
	}
	fallback := "Upload failed"
	if batch {
		sub.BatchName = c.PostForm("batch_name")
		fallback = "Batch upload failed"
	}

	receipt, err := h.dispatcher.Submit(c.Request.Context(), sub)
	if err != nil {
		h.respondError(c, err, fallback)
		return
	}

	c.JSON(http.StatusOK, dto.NewUploadResponse(receipt, batch))
}

// parseEnhanced reads the enhanced flag from the query string, then the form
func parseEnhanced(c *gin.Context) (bool, error) {
	raw := c.Query(enhancedParam)
	if raw == "" {
		raw = c.PostForm(enhancedParam)
	}
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// readFiles loads each part, stopping one byte past the size limit so the
// dispatcher can reject oversized files without buffering them whole
func (h *JobHandler) readFiles(headers []*multipart.FileHeader) ([]upload.File, error) {
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		content, err := h.readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		files = append(files, upload.File{Filename: fh.Filename, Content: content})
	}

	h.logger.Debug("Read uploaded files",
		slog.Any("filenames", lo.Map(files, func(f upload.File, _ int) string { return f.Filename })),
	)
	return files, nil
}

func (h *JobHandler) readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxFileSize > 0 {
		r = io.LimitReader(f, h.maxFileSize+1)
	}
	return io.ReadAll(r)
}
