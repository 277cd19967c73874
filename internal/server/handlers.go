// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/transfer"
	"github.com/pdiddy/fileconv/pkg/types"
)

// objectPath is the HTTP route prefix for registry objects.
const objectPath = "/objects/"

// writeError maps transfer errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transfer.ErrInvalidRequest), errors.Is(err, transfer.ErrUnknownFormat):
		status = http.StatusBadRequest
	case errors.Is(err, transfer.ErrBusy), errors.Is(err, transfer.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, transfer.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// view rewrites registry URLs in snap to HTTP paths served by this server.
func view(snap types.Snapshot) types.Snapshot {
	if snap.Preview != nil && snap.Preview.URL != "" {
		p := *snap.Preview
		p.URL = objectPath + objurl.PathID(p.URL)
		snap.Preview = &p
	}
	if snap.Download != nil {
		d := *snap.Download
		d.URL = objectPath + objurl.PathID(d.URL)
		snap.Download = &d
	}
	return snap
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) formats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": s.machine.Catalog().Categories()})
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, view(s.machine.Snapshot()))
}

func (s *Server) selectFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided", "details": err.Error()})
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	f, err := localfile.Spool(header.Filename, mimeType, file, s.spoolDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file", "details": err.Error()})
		return
	}

	s.machine.Select(f)
	c.JSON(http.StatusOK, view(s.machine.Snapshot()))
}

type formatRequest struct {
	Format string `json:"format" binding:"required"`
}

func (s *Server) setFormat(c *gin.Context) {
	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if err := s.machine.SetFormat(req.Format); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view(s.machine.Snapshot()))
}

func (s *Server) convert(c *gin.Context) {
	if err := s.machine.Convert(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view(s.machine.Snapshot()))
}

func (s *Server) reset(c *gin.Context) {
	s.machine.Reset()
	c.JSON(http.StatusOK, view(s.machine.Snapshot()))
}

// object serves a preview or download. Downloads are sent as attachments
// named after the converted file.
func (s *Server) object(c *gin.Context) {
	obj, ok := s.machine.Handles().Resolve(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}

	if obj.ContentType != "" {
		c.Header("Content-Type", obj.ContentType)
	}
	if obj.Attachment {
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	}
	http.ServeContent(c.Writer, c.Request, obj.Name, time.Time{}, io.NewSectionReader(obj.Content, 0, obj.Size))
}
