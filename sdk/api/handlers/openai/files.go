package openai

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poeproxy/poe-openai-proxy/internal/interfaces"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
)

// readFormFiles validates and reads multipart files into upload sources.
func (h *OpenAIAPIHandler) readFormFiles(headers []*multipart.FileHeader) ([]upload.Source, error) {
	sources := make([]upload.Source, 0, len(headers))
	for _, fh := range headers {
		contentType := fh.Header.Get("Content-Type")
		if err := h.uploads.Validate(fh.Filename, contentType, fh.Size); err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, badRequest("Failed to read file %s: %v", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, badRequest("Failed to read file %s: %v", fh.Filename, err)
		}
		sources = append(sources, upload.BytesSource(fh.Filename, contentType, data))
	}
	return sources, nil
}

// uploadError keeps errors that carry a status and reports the rest as a failed upload.
func uploadError(err error) *interfaces.ErrorMessage {
	var status interface{ StatusCode() int }
	if !errors.As(err, &status) {
		err = fmt.Errorf("Failed to upload file: %w", err)
	}
	return interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusInternalServerError, err)
}

// CreateFile handles POST /v1/files: one multipart "file" plus an optional "purpose".
func (h *OpenAIAPIHandler) CreateFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.WriteErrorResponse(c, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Missing required multipart field: 'file'.")))
		return
	}
	sources, err := h.readFormFiles([]*multipart.FileHeader{fh})
	if err != nil {
		h.WriteErrorResponse(c, uploadError(err))
		return
	}

	ctx, cancel := h.GetContextWithCancel(h, c, c.Request.Context())
	defer cancel()
	att, err := h.uploads.Upload(ctx, sources[0])
	if err != nil {
		h.WriteErrorResponse(c, uploadError(err))
		return
	}
	obj := h.files.Add(att, fh.Size, c.PostForm("purpose"))
	logging.Entry(ctx).Infof("registered file %s (%s)", obj.ID, obj.Filename)
	c.JSON(http.StatusOK, obj)
}

// UploadFiles handles POST /v1/files/upload: any number of multipart "files".
func (h *OpenAIAPIHandler) UploadFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.WriteErrorResponse(c, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Invalid multipart body: %v", err)))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		h.WriteErrorResponse(c, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusBadRequest, badRequest("Missing required multipart field: 'files'.")))
		return
	}
	sources, err := h.readFormFiles(headers)
	if err != nil {
		h.WriteErrorResponse(c, uploadError(err))
		return
	}

	ctx, cancel := h.GetContextWithCancel(h, c, c.Request.Context())
	defer cancel()
	attachments, err := h.uploads.UploadAll(ctx, sources)
	if err != nil {
		h.WriteErrorResponse(c, uploadError(err))
		return
	}

	files := make([]gin.H, 0, len(attachments))
	for i, att := range attachments {
		obj := h.files.Add(att, headers[i].Size, "")
		files = append(files, gin.H{"id": obj.ID, "filename": obj.Filename})
	}
	c.JSON(http.StatusOK, gin.H{
		"uploaded_files": len(attachments),
		"files":          files,
	})
}

// ListFiles handles GET /v1/files.
func (h *OpenAIAPIHandler) ListFiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.files.List(),
	})
}

// GetFile handles GET /v1/files/:id.
func (h *OpenAIAPIHandler) GetFile(c *gin.Context) {
	obj, ok := h.files.Get(c.Param("id"))
	if !ok {
		h.fileNotFound(c)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// DeleteFile handles DELETE /v1/files/:id. The cached attachment and any
// mirrored copy are discarded as well.
func (h *OpenAIAPIHandler) DeleteFile(c *gin.Context) {
	id := c.Param("id")
	obj, ok := h.files.Get(id)
	if !ok || !h.files.Delete(id) {
		h.fileNotFound(c)
		return
	}
	h.uploads.Discard(c.Request.Context(), obj.Attachment)
	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"object":  "file",
		"deleted": true,
	})
}

func (h *OpenAIAPIHandler) fileNotFound(c *gin.Context) {
	err := &requestError{status: http.StatusNotFound, message: fmt.Sprintf("File %s not found", c.Param("id"))}
	h.WriteErrorResponse(c, interfaces.NewErrorMessage(interfaces.KindAdapter, http.StatusNotFound, err))
}
