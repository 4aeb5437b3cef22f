package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"tutorials/backend/internal/tutorial"
)

// tutorialService is the subset of *tutorial.Service used by the handlers.
type tutorialService interface {
	Create(ctx context.Context, in tutorial.CreateInput) (*tutorial.Tutorial, error)
	List(ctx context.Context) ([]tutorial.Tutorial, error)
	ListPublished(ctx context.Context) ([]tutorial.Tutorial, error)
	Get(ctx context.Context, id string) (*tutorial.Tutorial, error)
	Update(ctx context.Context, id string, in tutorial.UpdateInput) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// MessageResponse is the body of every non-resource response.
type MessageResponse struct {
	Message string `json:"message"`
}

// TutorialHandler serves /api/tutorials. Request bodies may be JSON or
// URL-encoded forms.
type TutorialHandler struct {
	svc tutorialService
}

func message(c *gin.Context, code int, msg string) {
	c.JSON(code, MessageResponse{Message: msg})
}

func notFound(err error) bool {
	return errors.Is(err, tutorial.ErrNotFound) || errors.Is(err, tutorial.ErrInvalidID)
}

// Create handles POST /api/tutorials.
//
//	@Summary	Create a tutorial
//	@Tags		tutorials
//	@Accept		json,x-www-form-urlencoded
//	@Produce	json
//	@Param		tutorial	body		tutorial.CreateInput	true	"Tutorial"
//	@Success	200			{object}	tutorial.Tutorial
//	@Failure	400			{object}	MessageResponse
//	@Failure	500			{object}	MessageResponse
//	@Router		/api/tutorials [post]
func (h *TutorialHandler) Create(c *gin.Context) {
	var in tutorial.CreateInput
	if err := c.ShouldBind(&in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) || errors.Is(err, io.EOF) {
			message(c, http.StatusBadRequest, "Content can not be empty!")
			return
		}
		message(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	t, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "create tutorial failed", "err", err)
		message(c, http.StatusInternalServerError, "Some error occurred while creating the Tutorial.")
		return
	}
	c.JSON(http.StatusOK, t)
}

// FindAll handles GET /api/tutorials.
//
//	@Summary	List tutorials
//	@Tags		tutorials
//	@Produce	json
//	@Success	200	{array}		tutorial.Tutorial
//	@Failure	500	{object}	MessageResponse
//	@Router		/api/tutorials [get]
func (h *TutorialHandler) FindAll(c *gin.Context) {
	ts, err := h.svc.List(c.Request.Context())
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "list tutorials failed", "err", err)
		message(c, http.StatusInternalServerError, "Some error occurred while retrieving tutorials.")
		return
	}
	c.JSON(http.StatusOK, ts)
}

// FindAllPublished handles GET /api/tutorials/published.
//
//	@Summary	List published tutorials
//	@Tags		tutorials
//	@Produce	json
//	@Success	200	{array}		tutorial.Tutorial
//	@Failure	500	{object}	MessageResponse
//	@Router		/api/tutorials/published [get]
func (h *TutorialHandler) FindAllPublished(c *gin.Context) {
	ts, err := h.svc.ListPublished(c.Request.Context())
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "list published tutorials failed", "err", err)
		message(c, http.StatusInternalServerError, "Some error occurred while retrieving tutorials.")
		return
	}
	c.JSON(http.StatusOK, ts)
}

// FindOne handles GET /api/tutorials/:id.
//
//	@Summary	Get a tutorial
//	@Tags		tutorials
//	@Produce	json
//	@Param		id	path		string	true	"Tutorial ID"
//	@Success	200	{object}	tutorial.Tutorial
//	@Failure	404	{object}	MessageResponse
//	@Failure	500	{object}	MessageResponse
//	@Router		/api/tutorials/{id} [get]
func (h *TutorialHandler) FindOne(c *gin.Context) {
	id := c.Param("id")
	t, err := h.svc.Get(c.Request.Context(), id)
	switch {
	case notFound(err):
		message(c, http.StatusNotFound, "Not found Tutorial with id "+id)
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "get tutorial failed", "id", id, "err", err)
		message(c, http.StatusInternalServerError, "Error retrieving Tutorial with id="+id)
	default:
		c.JSON(http.StatusOK, t)
	}
}

// Update handles PUT /api/tutorials/:id.
//
//	@Summary	Update a tutorial
//	@Tags		tutorials
//	@Accept		json,x-www-form-urlencoded
//	@Produce	json
//	@Param		id			path		string					true	"Tutorial ID"
//	@Param		tutorial	body		tutorial.UpdateInput	true	"Fields to change"
//	@Success	200			{object}	MessageResponse
//	@Failure	400			{object}	MessageResponse
//	@Failure	404			{object}	MessageResponse
//	@Failure	500			{object}	MessageResponse
//	@Router		/api/tutorials/{id} [put]
func (h *TutorialHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var in tutorial.UpdateInput
	if err := c.ShouldBind(&in); err != nil {
		if errors.Is(err, io.EOF) {
			message(c, http.StatusBadRequest, "Data to update can not be empty!")
			return
		}
		message(c, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if in.Empty() {
		message(c, http.StatusBadRequest, "Data to update can not be empty!")
		return
	}

	err := h.svc.Update(c.Request.Context(), id, in)
	switch {
	case notFound(err):
		message(c, http.StatusNotFound, fmt.Sprintf("Cannot update Tutorial with id=%s. Maybe Tutorial was not found!", id))
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "update tutorial failed", "id", id, "err", err)
		message(c, http.StatusInternalServerError, "Error updating Tutorial with id="+id)
	default:
		message(c, http.StatusOK, "Tutorial was updated successfully.")
	}
}

// Delete handles DELETE /api/tutorials/:id.
//
//	@Summary	Delete a tutorial
//	@Tags		tutorials
//	@Produce	json
//	@Param		id	path		string	true	"Tutorial ID"
//	@Success	200	{object}	MessageResponse
//	@Failure	404	{object}	MessageResponse
//	@Failure	500	{object}	MessageResponse
//	@Router		/api/tutorials/{id} [delete]
func (h *TutorialHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.svc.Delete(c.Request.Context(), id)
	switch {
	case notFound(err):
		message(c, http.StatusNotFound, fmt.Sprintf("Cannot delete Tutorial with id=%s. Maybe Tutorial was not found!", id))
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "delete tutorial failed", "id", id, "err", err)
		message(c, http.StatusInternalServerError, "Could not delete Tutorial with id="+id)
	default:
		message(c, http.StatusOK, "Tutorial was deleted successfully!")
	}
}

// DeleteAll handles DELETE /api/tutorials.
//
//	@Summary	Delete every tutorial
//	@Tags		tutorials
//	@Produce	json
//	@Success	200	{object}	MessageResponse
//	@Failure	500	{object}	MessageResponse
//	@Router		/api/tutorials [delete]
func (h *TutorialHandler) DeleteAll(c *gin.Context) {
	n, err := h.svc.DeleteAll(c.Request.Context())
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "delete all tutorials failed", "err", err)
		message(c, http.StatusInternalServerError, "Some error occurred while removing all tutorials.")
		return
	}
	message(c, http.StatusOK, fmt.Sprintf("%d Tutorials were deleted successfully!", n))
}
