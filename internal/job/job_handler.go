package job

import (
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/middleware"
)

// OwnerHeader carries the authenticated owner on upload requests.
const OwnerHeader = "X-Owner-ID"

type JobHandler struct {
	service        JobServiceInterface
	maxUploadBytes int64
}

func NewJobHandler(s JobServiceInterface, maxUploadBytes int64) *JobHandler {
	return &JobHandler{service: s, maxUploadBytes: maxUploadBytes}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// RegisterRoutes mounts the resume endpoints on r.
func RegisterRoutes(r gin.IRouter, h JobHandlerInterface) {
	g := r.Group("/resumes")
	g.POST("", h.Upload)
	g.POST("/claims", h.Claim)
	g.GET("/jobs/:id", h.Status)
	g.POST("/jobs/:id/retry", h.Retry)
	g.GET("/owners/:owner/result", h.Result)
	g.DELETE("/owners/:owner", h.DeleteOwner)
}

// Upload handles multipart uploads of a single PDF in the "file" field.
// It stores the bytes, claims them, and returns HTTP 202 with the job.
func (h *JobHandler) Upload(c *gin.Context) {
	owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
	if owner == "" {
		c.Error(common.Errf(http.StatusBadRequest, "%s header is required", OwnerHeader))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "file field is required"))
		return
	}

	mediaType, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if err != nil || !slices.Contains(config.AllowedContentTypes, mediaType) {
		c.Error(common.NewAPIError(http.StatusUnsupportedMediaType, "only PDF files are accepted", map[string]any{
			"provided": fh.Header.Get("Content-Type"),
			"allowed":  config.AllowedContentTypes,
		}))
		return
	}

	if fh.Size > h.maxUploadBytes {
		c.Error(common.NewAPIError(http.StatusRequestEntityTooLarge, "file too large", map[string]any{
			"max_bytes": h.maxUploadBytes,
		}))
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "could not read uploaded file"))
		return
	}
	defer f.Close()

	// one byte over the limit is enough for the service to reject it
	content, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "could not read uploaded file"))
		return
	}

	resp, err := h.service.Upload(c.Request.Context(), owner, fh.Filename, content)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// Claim registers an object that was uploaded to storage directly.
func (h *JobHandler) Claim(c *gin.Context) {
	var req dto.ClaimCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.Claim(c.Request.Context(), dto.ClaimRequest{
		OwnerID:     req.OwnerID,
		StorageKey:  req.StorageKey,
		ContentHash: req.ContentHash,
	})
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// Status returns the polling view of a job.
func (h *JobHandler) Status(c *gin.Context) {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return
	}

	resp, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Retry queues a failed job again if its budget allows.
func (h *JobHandler) Retry(c *gin.Context) {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return
	}

	resp, err := h.service.Retry(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *JobHandler) Result(c *gin.Context) {
	resp, err := h.service.GetResult(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteOwner removes every job, result and stored file of an owner.
func (h *JobHandler) DeleteOwner(c *gin.Context) {
	if err := h.service.DeleteOwner(c.Request.Context(), c.Param("owner")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
