// Package api exposes the sponsorship pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/relay"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/sponsor"
)

// A v0 transaction is at most 1232 bytes, so 1644 base64 characters.
const maxBodyBytes = 16 << 10

// Sponsor is satisfied by *sponsor.Pipeline.
type Sponsor interface {
	Submit(ctx context.Context, encoded string) sponsor.Outcome
	Configured() bool
}

type Handler struct {
	sponsor   Sponsor
	whitelist *policy.Whitelist
	feePayer  solana.PublicKey
	metrics   prometheus.Gatherer
	log       *zap.Logger
}

func NewHandler(s Sponsor, whitelist *policy.Whitelist, feePayer solana.PublicKey, metrics prometheus.Gatherer, log *zap.Logger) *Handler {
	return &Handler{sponsor: s, whitelist: whitelist, feePayer: feePayer, metrics: metrics, log: log}
}

// Register mounts all routes on r.
func (h *Handler) Register(r gin.IRouter) {
	// ── Sponsorship ────────────────────────────────────────────────────────
	r.POST("/sponsor", h.handleSponsor)
	r.POST("/api/sponsor-transaction", h.handleSponsor)

	// ── Introspection ──────────────────────────────────────────────────────
	r.GET("/whitelist", h.handleWhitelist)
	r.GET("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics, promhttp.HandlerOpts{})))
	}
}

type sponsorRequest struct {
	Transaction string `json:"transaction"`
}

// ── Sponsor ─────────────────────────────────────────────────────────────────

func (h *Handler) handleSponsor(c *gin.Context) {
	if !h.sponsor.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fee payer is not configured on the server"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req sponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug("invalid sponsor request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Transaction == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction data"})
		return
	}

	o := h.sponsor.Submit(c.Request.Context(), req.Transaction)
	if o.Kind == sponsor.Relayed {
		c.JSON(http.StatusOK, gin.H{
			"transactionHash": o.Signature.String(),
			"message":         "Transaction sent successfully",
		})
		return
	}
	status, body := failure(o)
	c.JSON(status, body)
}

// failure maps a non-relayed outcome to its HTTP status and body.
func failure(o sponsor.Outcome) (int, gin.H) {
	switch o.Reason {
	case sponsor.ReasonMalformed:
		return http.StatusBadRequest, gin.H{"error": "Invalid transaction", "details": o.Err.Error()}
	case sponsor.ReasonInvalidFeePayer:
		return http.StatusForbidden, gin.H{"error": "Invalid fee payer in transaction"}
	case sponsor.ReasonUnauthorizedProgram:
		var upe *policy.UnauthorizedProgramError
		if errors.As(o.Err, &upe) {
			return http.StatusForbidden, gin.H{
				"error":   upe.Error(),
				"details": "Only the following program IDs are allowed: " + upe.AllowedList(),
			}
		}
		return http.StatusForbidden, gin.H{"error": "Program ID not whitelisted"}
	case sponsor.ReasonDrainAttempt:
		return http.StatusForbidden, gin.H{"error": "Transaction attempts to transfer funds from fee payer"}
	case sponsor.ReasonUnresolvableAccount:
		return http.StatusForbidden, gin.H{"error": "Transaction references accounts that cannot be resolved"}
	case sponsor.ReasonDuplicate:
		return http.StatusConflict, gin.H{"error": "Transaction already submitted"}
	case sponsor.ReasonQuota:
		return http.StatusTooManyRequests, gin.H{"error": "Sponsorship quota exceeded"}
	case sponsor.ReasonNotConfigured:
		return http.StatusInternalServerError, gin.H{"error": "Fee payer is not configured on the server"}
	}

	body := gin.H{"error": "Failed to process transaction"}
	var re *relay.RelayError
	if errors.As(o.Err, &re) {
		body["details"] = re.Detail
	}
	return http.StatusInternalServerError, body
}

// ── Introspection ───────────────────────────────────────────────────────────

func (h *Handler) handleWhitelist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"programs": h.whitelist.Strings()})
}

func (h *Handler) handleHealth(c *gin.Context) {
	// An unset fee payer is reported as "".
	feePayer := ""
	if !h.feePayer.IsZero() {
		feePayer = h.feePayer.String()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "configured": h.sponsor.Configured(), "feePayer": feePayer})
}
