package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudfarm/internal/service"
)

func (h HandlerSet) UploadImage(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	image, err := h.images.Upload(c.Request.Context(), scope, service.UploadInput{
		TalhaoID:     c.Param("id"),
		Body:         file,
		DeclaredType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imagem": image})
}

func (h HandlerSet) ListImages(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}
	images, err := h.images.List(c.Request.Context(), scope, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imagens": images})
}
