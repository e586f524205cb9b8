package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codyseavey/kpi-widget/internal/database"
	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/models"
	"github.com/codyseavey/kpi-widget/internal/services"
)

// WidgetHandler serves widget configuration, refresh control, and
// worksheet writes.
type WidgetHandler struct {
	orchestrator *services.Orchestrator
	worksheet    *host.SQLiteWorksheet
}

func NewWidgetHandler(orchestrator *services.Orchestrator, worksheet *host.SQLiteWorksheet) *WidgetHandler {
	return &WidgetHandler{
		orchestrator: orchestrator,
		worksheet:    worksheet,
	}
}

// GetPeriod returns the active period spec
func (h *WidgetHandler) GetPeriod(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Period())
}

// PutPeriod applies a user period edit. The edit invalidates the
// stored fingerprint and triggers an unconditional refresh.
func (h *WidgetHandler) PutPeriod(c *gin.Context) {
	var spec models.PeriodSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orchestrator.SetPeriod(spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Persist alongside, so the selection survives restarts
	db := database.GetDB()
	settings := models.WidgetSettings{
		ID:           1,
		PeriodKind:   spec.Kind,
		Granularity:  spec.Granularity,
		RollingCount: spec.RollingCount,
		WeekStart:    spec.WeekStart,
		UpdatedAt:    time.Now(),
	}
	db.Where("id = ?", 1).Assign(settings).FirstOrCreate(&models.WidgetSettings{})

	c.JSON(http.StatusOK, spec)
}

// Refresh requests a manual refresh. A refresh already in flight wins
// and the request is dropped.
func (h *WidgetHandler) Refresh(c *gin.Context) {
	go func() {
		_ = h.orchestrator.Refresh(c.Copy(), true)
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested"})
}

// GetStatus reports orchestrator state for the widget chrome
func (h *WidgetHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Status())
}

// cellPayload is one inbound worksheet cell
type cellPayload struct {
	Number    *float64 `json:"number,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Date      *string  `json:"date,omitempty"` // 2006-01-02 or RFC3339
	Formatted string   `json:"formatted,omitempty"`
}

type appendRowRequest struct {
	Cells map[string]cellPayload `json:"cells" binding:"required"`
}

// AppendRow writes one worksheet row. The write emits a data-changed
// notification, which the orchestrator debounces.
func (h *WidgetHandler) AppendRow(c *gin.Context) {
	var req appendRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cells := make(map[string]models.WorksheetCell, len(req.Cells))
	for field, p := range req.Cells {
		cell := models.WorksheetCell{Formatted: p.Formatted}
		switch {
		case p.Number != nil:
			cell.NumberValue = p.Number
		case p.Date != nil:
			t, err := parseDate(*p.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date for field " + field})
				return
			}
			cell.DateValue = &t
		case p.Text != nil:
			cell.TextValue = p.Text
		}
		cells[field] = cell
	}

	if err := h.worksheet.AppendRow(c.Request.Context(), cells); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "row appended"})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// LoadPersistedPeriod restores the period selection on startup,
// before the orchestrator's initial refresh.
func LoadPersistedPeriod(db *gorm.DB, orchestrator *services.Orchestrator) {
	var settings models.WidgetSettings
	if err := db.First(&settings, 1).Error; err != nil {
		return
	}
	orchestrator.RestorePeriod(settings.PeriodSpec())
}
