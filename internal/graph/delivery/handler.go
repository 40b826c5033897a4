package delivery

import (
	"net/http"
	"strconv"

	"noodle-backend/internal/graph/repository"
	"noodle-backend/internal/graph/usecase"
	"noodle-backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type GraphHandler struct {
	graphUsecase usecase.GraphUsecase
}

func NewGraphHandler(graphUsecase usecase.GraphUsecase) *GraphHandler {
	return &GraphHandler{graphUsecase: graphUsecase}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// GetGraph returns nodes and links for visualization.
// Query: type, q, email_id, limit
func (h *GraphHandler) GetGraph(c *gin.Context) {
	q := repository.GraphQuery{
		EntityType: c.Query("type"),
		Query:      c.Query("q"),
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if v := c.Query("email_id"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			q.EmailID = uint(parsed)
		}
	}

	graph, err := h.graphUsecase.Graph(c.Request.Context(), q)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, graph)
}

func (h *GraphHandler) SearchEntities(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entities, err := h.graphUsecase.SearchEntities(c.Request.Context(), c.Query("q"), c.Query("type"), limit)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (h *GraphHandler) GetEntity(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	detail, err := h.graphUsecase.Entity(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *GraphHandler) GetNeighbors(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "1"))
	nodes, err := h.graphUsecase.Neighbors(c.Request.Context(), id, depth)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"neighbors": nodes})
}

func (h *GraphHandler) GetSimilar(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	similar, err := h.graphUsecase.Similar(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": similar})
}

type mergeRequest struct {
	Into uint `json:"into" binding:"required"`
}

// Merge folds the entity in the path into the one named in the body.
func (h *GraphHandler) Merge(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entity, err := h.graphUsecase.Merge(c.Request.Context(), id, req.Into)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entity)
}
