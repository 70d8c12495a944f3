package http

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	apporderbook "mbobook/internal/application/service/orderbook"
	domainmarketdata "mbobook/internal/domain/entity/marketdata"
	"mbobook/internal/domain/orderbook"

	"github.com/gin-gonic/gin"
)

const defaultDepthLevels = 10

// Stream control

func (h *Handler) startStream(c *gin.Context) {
	var req apporderbook.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	// the replay outlives this request
	if err := h.streamer.Start(context.WithoutCancel(c.Request.Context()), req); err != nil {
		switch {
		case errors.Is(err, apporderbook.ErrAlreadyStreaming):
			writeError(c, http.StatusConflict, err)
		case errors.Is(err, apporderbook.ErrNoFeedPath),
			errors.Is(err, apporderbook.ErrInvalidSpeed),
			errors.Is(err, fs.ErrNotExist):
			writeError(c, http.StatusBadRequest, err)
		default:
			writeError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusAccepted, h.streamer.Status())
}

func (h *Handler) stopStream(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.streamer.Stop(ctx); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, h.streamer.Status())
}

func (h *Handler) streamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.streamer.Status())
}

// Book queries

func (h *Handler) getSnapshot(c *gin.Context) {
	report, err := h.engine.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getBBO(c *gin.Context) {
	bbo, err := h.engine.BestBidOffer(c.Request.Context())
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, bbo)
}

// getDepth returns the top levels with human readable prices.
func (h *Handler) getDepth(c *gin.Context) {
	levels, err := parseLevels(c, defaultDepthLevels)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	view, err := h.engine.Depth(c.Request.Context(), levels)
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, domainmarketdata.NewOrderBookSnapshot(h.symbol, int32(levels), h.scale, view, time.Now()))
}

func (h *Handler) getMbp(c *gin.Context) {
	levels, err := parseLevels(c, domainmarketdata.MbpDepth)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	pairs, err := h.engine.DepthPairs(c.Request.Context(), levels)
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, pairs)
}

func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("order id must be an unsigned integer"))
		return
	}
	order, ok, err := h.engine.Order(c.Request.Context(), id)
	if err != nil {
		writeError(c, engineStatus(err), err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, errors.New("order not found"))
		return
	}
	c.JSON(http.StatusOK, order)
}

// getLevelQueue lists the orders resting at one price in time priority.
// The price is given either as ?price= (decimal) or ?ticks= (fixed-point).
func (h *Handler) getLevelQueue(c *gin.Context) {
	side, err := parseSide(c.Param("side"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	price, err := h.parsePriceQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	orders, err := h.engine.Queue(c.Request.Context(), side, price)
	if err != nil {
		if errors.Is(err, orderbook.ErrPriceOutOfRange) || errors.Is(err, orderbook.ErrPriceMisaligned) {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		writeError(c, engineStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"side":          side,
		"price":         price,
		"display_price": domainmarketdata.FormatPrice(price, h.scale),
		"orders":        orders,
	})
}

func (h *Handler) parsePriceQuery(c *gin.Context) (int64, error) {
	if raw := c.Query("price"); raw != "" {
		return domainmarketdata.ParsePrice(raw, h.scale)
	}
	if raw := c.Query("ticks"); raw != "" {
		return strconv.ParseInt(raw, 10, 64)
	}
	return 0, errors.New("price or ticks query param required")
}

func parseSide(raw string) (orderbook.Side, error) {
	switch strings.ToUpper(raw) {
	case "B", "BID", "BIDS":
		return orderbook.SideBid, nil
	case "A", "ASK", "ASKS":
		return orderbook.SideAsk, nil
	default:
		return "", errInvalidSide
	}
}
