package controllers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"logitrack/internal/apperr"
	"logitrack/internal/repository"
)

// ok writes the standard success envelope.
func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail maps a service error onto the wire contract. 5xx causes are logged
// server-side; the response carries only the kind and the safe message.
func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed.")
	}
	c.JSON(status, gin.H{
		"success": false,
		"kind":    apperr.KindOf(err),
		"error":   apperr.MessageOf(err),
	})
}

// paramID parses a numeric path parameter, answering 400 itself on garbage.
func paramID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		fail(c, apperr.Validation("invalid "+name+" parameter"))
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryFloat(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, apperr.Validation(name + " query parameter is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.Validation("invalid " + name + " query parameter")
	}
	return v, nil
}

func listOptions(c *gin.Context) repository.ListOptions {
	return repository.ListOptions{
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", 10),
		Status: c.Query("status"),
	}.Normalize()
}

// pagination is the envelope list endpoints attach next to their items.
func pagination(opts repository.ListOptions, total int64) gin.H {
	totalPages := int(math.Ceil(float64(total) / float64(opts.Limit)))
	return gin.H{
		"current_page": opts.Page,
		"total_pages":  totalPages,
		"total":        total,
		"per_page":     opts.Limit,
	}
}
