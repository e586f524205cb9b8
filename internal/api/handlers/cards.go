package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/kpi-widget/internal/services"
)

// CardHandler serves the card list, chart series, and the per-chart
// hover/brush interaction endpoints.
type CardHandler struct {
	orchestrator *services.Orchestrator

	mu           sync.Mutex
	interactions map[string]*services.Interaction
	geometries   map[string]services.ChartGeometry
}

func NewCardHandler(orchestrator *services.Orchestrator) *CardHandler {
	return &CardHandler{
		orchestrator: orchestrator,
		interactions: make(map[string]*services.Interaction),
		geometries:   make(map[string]services.ChartGeometry),
	}
}

// GetCards returns the current card list in render order
func (h *CardHandler) GetCards(c *gin.Context) {
	status := h.orchestrator.Status()
	c.JSON(http.StatusOK, gin.H{
		"cards":       h.orchestrator.Cards(),
		"state":       status.State,
		"empty_state": status.EmptyState,
	})
}

// GetCardSeries returns a card's chart series. The series may be
// partial (reference only) while the progressive fill is running.
func (h *CardHandler) GetCardSeries(c *gin.Context) {
	cardID := c.Param("id")
	if _, ok := h.orchestrator.CardByID(cardID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	series, ok := h.orchestrator.SeriesFor(cardID)
	c.JSON(http.StatusOK, gin.H{
		"series": series,
		"ready":  ok,
	})
}

// GetCardSummary returns the card-level comparison tooltip
func (h *CardHandler) GetCardSummary(c *gin.Context) {
	card, ok := h.orchestrator.CardByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	content := services.BuildSummaryTooltip(card, h.orchestrator.Windows(), h.orchestrator.TooltipTotals())
	c.JSON(http.StatusOK, gin.H{
		"tooltip":        content,
		"tooltip_totals": h.orchestrator.TooltipTotals(),
	})
}

// interactionFor returns the card's interaction state machine,
// replacing it when the chart geometry changed (a resize clears any
// held selection).
func (h *CardHandler) interactionFor(cardID string, geom services.ChartGeometry) *services.Interaction {
	h.mu.Lock()
	defer h.mu.Unlock()

	if in, ok := h.interactions[cardID]; ok && h.geometries[cardID] == geom {
		return in
	}
	in := services.NewInteraction(geom)
	h.interactions[cardID] = in
	h.geometries[cardID] = geom
	return in
}

type hoverRequest struct {
	X        float64                `json:"x"`
	Geometry services.ChartGeometry `json:"geometry" binding:"required"`
}

// Hover resolves a pointer position to a point tooltip. No-ops with
// 204 while a brush selection is active on the same chart.
func (h *CardHandler) Hover(c *gin.Context) {
	card, ok := h.orchestrator.CardByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	var req hoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Geometry.Kind = card.ChartKind

	series, _ := h.orchestrator.SeriesFor(card.ID)
	in := h.interactionFor(card.ID, req.Geometry)

	result, ok := in.Hover(req.X, card, series, h.orchestrator.TooltipFields())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HoverExit clears hover state and hides the tooltip
func (h *CardHandler) HoverExit(c *gin.Context) {
	cardID := c.Param("id")

	h.mu.Lock()
	in, ok := h.interactions[cardID]
	h.mu.Unlock()
	if ok {
		in.ClearHover()
	}
	c.Status(http.StatusNoContent)
}

type brushRequest struct {
	X0       float64                `json:"x0"`
	X1       float64                `json:"x1"`
	Geometry services.ChartGeometry `json:"geometry" binding:"required"`
}

// Brush resolves a pixel interval to a range selection with an
// aggregated tooltip. An empty interval clears the selection (204).
func (h *CardHandler) Brush(c *gin.Context) {
	card, ok := h.orchestrator.CardByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	var req brushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Geometry.Kind = card.ChartKind

	series, _ := h.orchestrator.SeriesFor(card.ID)
	in := h.interactionFor(card.ID, req.Geometry)

	result, ok := in.Brush(req.X0, req.X1, card, series, h.orchestrator.TooltipFields())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BrushClear drops the selection, re-enabling hover
func (h *CardHandler) BrushClear(c *gin.Context) {
	cardID := c.Param("id")

	h.mu.Lock()
	in, ok := h.interactions[cardID]
	h.mu.Unlock()
	if ok {
		in.ClearBrush()
	}
	c.Status(http.StatusNoContent)
}
