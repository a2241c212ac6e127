package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	"github.com/gin-gonic/gin"
)

const confirmQueryParam = "confirm"

func (h *httpHandler) handleOperatorDashboard(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.dashboards.Operator(c.Request.Context(), principal.Profile)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleListHectares(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.hectares.Load(c.Request.Context(), principal.Profile, principal.Profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateHectare(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input hectares.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	view, err := h.hectares.Create(c.Request.Context(), principal.Profile, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateHectare(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input hectares.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	view, err := h.hectares.Update(c.Request.Context(), principal.Profile, c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteHectare(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.hectares.Delete(c.Request.Context(), principal.Profile, c.Param("id"), confirmed(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleListEmissions(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.emissions.Load(c.Request.Context(), principal.Profile, principal.Profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateEmission(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input emissions.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	view, err := h.emissions.Create(c.Request.Context(), principal.Profile, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleListTokens(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.tokens.Load(c.Request.Context(), principal.Profile, principal.Profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateToken(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input tokens.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	view, err := h.tokens.Create(c.Request.Context(), principal.Profile, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func confirmed(c *gin.Context) bool {
	value, err := strconv.ParseBool(c.Query(confirmQueryParam))
	return err == nil && value
}
