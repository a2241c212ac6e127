package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/users"
	"github.com/gin-gonic/gin"
)

type operatorListResponsePayload struct {
	Operators []model.Profile `json:"operators"`
	Count     int             `json:"count"`
}

func (h *httpHandler) handleAdminDashboard(c *gin.Context) {
	principal, _ := principalFrom(c)
	view, err := h.dashboards.Admin(c.Request.Context(), principal.Profile)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleListOperators(c *gin.Context) {
	principal, _ := principalFrom(c)
	operators, err := h.users.ListOperators(c.Request.Context(), principal.Profile, c.Query("search"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, operatorListResponsePayload{Operators: operators, Count: len(operators)})
}

func (h *httpHandler) handleCreateOperator(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input users.CreateOperatorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	operator, err := h.users.CreateOperator(c.Request.Context(), principal.Profile, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, operator)
}

func (h *httpHandler) handleOperatorDetails(c *gin.Context) {
	principal, _ := principalFrom(c)
	details, err := h.dashboards.OperatorDetails(c.Request.Context(), principal.Profile, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *httpHandler) handleUpdateOperator(c *gin.Context) {
	principal, _ := principalFrom(c)
	var input users.UpdateOperatorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c)
		return
	}
	operator, err := h.users.UpdateOperator(c.Request.Context(), principal.Profile, c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, operator)
}

func (h *httpHandler) handleDeleteOperator(c *gin.Context) {
	principal, _ := principalFrom(c)
	if err := h.users.DeleteOperator(c.Request.Context(), principal.Profile, c.Param("id"), confirmed(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
