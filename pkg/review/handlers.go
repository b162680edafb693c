package review

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/errcodes"
	"github.com/shishobooks/spines/pkg/models"
)

type handler struct {
	reviewService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListItemsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	items, total, err := h.reviewService.ListWithTotal(ctx, ListItemsOptions{
		Limit:       &params.Limit,
		Offset:      &params.Offset,
		Statuses:    params.Status,
		Contributor: params.Contributor,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	summary, err := h.reviewService.Summary(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Items   []*models.ReviewItem `json:"items"`
		Total   int                  `json:"total"`
		Summary *Summary             `json:"summary"`
	}{items, total, summary}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	item, err := h.reviewService.Retrieve(ctx, RetrieveItemOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, item))
}

func (h *handler) similar(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.reviewService.Similar(ctx, c.Param("id"))
	if err != nil {
		return mapCatalogError(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) approve(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ApprovePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	action, err := ParseCopyAction(params.CopyAction, params.BookID)
	if err != nil {
		return errors.WithStack(err)
	}

	result, err := h.reviewService.Approve(ctx, ApproveOptions{
		ItemID: c.Param("id"),
		Metadata: Corrections{
			Title:     params.Title,
			Author:    params.Author,
			Year:      params.Year,
			ISBN:      params.ISBN,
			Publisher: params.Publisher,
			MediaType: params.MediaType,
			Notes:     params.Notes,
			Tags:      params.Tags,
		},
		Contributor: params.Contributor,
		Action:      action,
	})
	if err != nil {
		return mapCatalogError(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) reject(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := RejectPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	item, err := h.reviewService.Reject(ctx, RejectOptions{
		ItemID: c.Param("id"),
		Reason: params.Reason,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, item))
}

func mapCatalogError(err error) error {
	if errors.Is(err, catalog.ErrUnavailable) {
		return errcodes.ServiceUnavailable("The catalog")
	}
	return errors.WithStack(err)
}
