// Package api exposes a read-only monitoring surface over the divisor
// store: summary stats, block backlog progress, and a websocket stream of
// best-witness improvements. It never writes to the store; the worker
// loops own all mutations.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/pkg/models"
)

type apiHandler struct {
	store db.Store
	hub   *StreamHub
}

// SetupRouter builds the gin router for the serve role.
func SetupRouter(store db.Store, hub *StreamHub) *gin.Engine {
	r := gin.Default()

	handler := &apiHandler{store: store, hub: hub}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handler.handleHealth)
		v1.GET("/summary", handler.handleSummary)
		v1.GET("/blocks/progress", handler.handleBlocksProgress)
		v1.GET("/stream", hub.Subscribe)
	}
	return r
}

func (h *apiHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleSummary reports the best records found so far.
func (h *apiHandler) handleSummary(c *gin.Context) {
	stats, err := h.store.Summarize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaryPayload(stats))
}

func summaryPayload(stats models.SummaryStats) gin.H {
	payload := gin.H{
		"largestComputedN":    nil,
		"largestWitnessValue": nil,
	}
	if stats.LargestComputedN != nil {
		payload["largestComputedN"] = gin.H{
			"n":            stats.LargestComputedN.N.String(),
			"divisorSum":   stats.LargestComputedN.DivisorSum.String(),
			"witnessValue": stats.LargestComputedN.WitnessValue,
		}
	}
	if stats.LargestWitnessValue != nil {
		payload["largestWitnessValue"] = gin.H{
			"n":            stats.LargestWitnessValue.N.String(),
			"divisorSum":   stats.LargestWitnessValue.DivisorSum.String(),
			"witnessValue": stats.LargestWitnessValue.WitnessValue,
		}
	}
	return payload
}

// handleBlocksProgress reports block counts per index type and state,
// plus the frontier of each search.
func (h *apiHandler) handleBlocksProgress(c *gin.Context) {
	metadata, err := h.store.LoadMetadata(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type progress struct {
		Counts   map[string]int `json:"counts"`
		Frontier string         `json:"frontier"`
	}
	byType := make(map[string]*progress)
	for _, block := range metadata {
		p, ok := byType[block.SearchIndexType]
		if !ok {
			p = &progress{Counts: make(map[string]int)}
			byType[block.SearchIndexType] = p
		}
		p.Counts[string(block.State)]++
		// Metadata is ordered by creation time, so the last block seen
		// carries the largest ending index.
		p.Frontier = block.EndingSearchIndex.Serialize()
	}
	c.JSON(http.StatusOK, gin.H{"totalBlocks": len(metadata), "byIndexType": byType})
}
