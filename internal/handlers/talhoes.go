package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cloudfarm/internal/models"
	"cloudfarm/internal/service"
)

func (h HandlerSet) ListTalhoes(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}

	talhoes, err := h.talhoes.List(c.Request.Context(), scope, service.TalhaoQuery{
		Cultura: c.Query("cultura"),
		Status:  models.TalhaoStatus(c.Query("status")),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"talhoes": talhoes})
}

func (h HandlerSet) GetTalhao(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}

	talhao, err := h.talhoes.Get(c.Request.Context(), scope, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"talhao": talhao})
}

func (h HandlerSet) CreateTalhao(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}
	var in models.TalhaoInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	talhao, err := h.talhoes.Create(c.Request.Context(), scope, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"talhao": talhao})
}

func (h HandlerSet) UpdateTalhao(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}
	var in models.TalhaoInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	talhao, err := h.talhoes.Update(c.Request.Context(), scope, c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"talhao": talhao})
}

func (h HandlerSet) DeleteTalhao(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}
	if err := h.talhoes.Delete(c.Request.Context(), scope, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Estatisticas(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		return
	}
	stats, err := h.talhoes.Estatisticas(c.Request.Context(), scope)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"estatisticas": stats})
}
