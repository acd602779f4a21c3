package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxEvidenceBytes = 10 << 20

var folderRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// UploadEvidence stores a multipart "file" in the evidence bucket under the
// optional "folder" field and returns its public URL.
func (h *Handler) UploadEvidence(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		h.fail(c, fmt.Errorf("%w: evidence storage", errUnavailable))
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, fmt.Errorf("file is required: %w", err))
		return
	}
	if fh.Size > maxEvidenceBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", maxEvidenceBytes)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxEvidenceBytes))
	if err != nil {
		badRequest(c, err)
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	folder := folderRe.ReplaceAllString(strings.ToLower(c.PostForm("folder")), "")
	if folder == "" {
		folder = "general"
	}
	name := path.Join(folder, time.Now().UTC().Format("2006/01/02"),
		uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))

	if err := h.storage.Upload(c.Request.Context(), h.bucket, name, contentType, data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"path": name,
		"url":  h.storage.PublicURL(h.bucket, name),
	})
}
