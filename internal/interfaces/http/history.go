package http

import (
	"errors"
	"net/http"
	"strings"

	appmarketdata "mbobook/internal/application/service/marketdata"
	appprofiles "mbobook/internal/application/service/profiles"
	domainprofiles "mbobook/internal/domain/entity/profiles"
	"mbobook/internal/domain/orderbook"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Snapshot history

func (h *Handler) historySymbol(c *gin.Context) string {
	if s := strings.TrimSpace(c.Query("symbol")); s != "" {
		return s
	}
	return h.symbol
}

func (h *Handler) getSnapshotsRange(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, errMissingRange)
		return
	}
	depth, err := parseIntQuery(c, "depth")
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("depth query param required"))
		return
	}
	snapshots, err := h.snapshots.GetOrderBookSnapshotsBetween(c.Request.Context(), h.historySymbol(c), int32(depth), from, to)
	if err != nil {
		writeError(c, historyStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func (h *Handler) getSnapshotsLast(c *gin.Context) {
	depth, err := parseIntQuery(c, "depth")
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("depth query param required"))
		return
	}
	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("limit query param required"))
		return
	}
	snapshots, err := h.snapshots.GetLastOrderBookSnapshots(c.Request.Context(), h.historySymbol(c), int32(depth), limit)
	if err != nil {
		writeError(c, historyStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func historyStatus(err error) int {
	switch {
	case errors.Is(err, appmarketdata.ErrInvalidDepth),
		errors.Is(err, appmarketdata.ErrInvalidLimit),
		errors.Is(err, appmarketdata.ErrMissingSymbol):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Profiles

type profilePayload struct {
	UID          string `json:"uid,omitempty"`
	Symbol       string `json:"symbol"`
	InstrumentID uint32 `json:"instrument_id"`
	PriceMin     int64  `json:"price_min"`
	PriceMax     int64  `json:"price_max"`
	TickSize     int64  `json:"tick_size"`
	PriceScale   int32  `json:"price_scale"`
	Description  string `json:"description"`
}

func (p profilePayload) toDomain() (*domainprofiles.BookProfile, error) {
	profile := &domainprofiles.BookProfile{
		Symbol:       p.Symbol,
		InstrumentID: p.InstrumentID,
		PriceMin:     p.PriceMin,
		PriceMax:     p.PriceMax,
		TickSize:     p.TickSize,
		PriceScale:   p.PriceScale,
		Description:  p.Description,
	}
	if p.UID != "" {
		uid, err := uuid.Parse(p.UID)
		if err != nil {
			return nil, errMissingUID
		}
		profile.UID = uid
	}
	return profile, nil
}

func (h *Handler) createProfile(c *gin.Context) {
	var payload profilePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	profile, err := payload.toDomain()
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.profiles.CreateProfile(c.Request.Context(), profile); err != nil {
		writeError(c, profileStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var payload profilePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if payload.UID == "" {
		writeError(c, http.StatusBadRequest, errMissingUID)
		return
	}
	profile, err := payload.toDomain()
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.profiles.UpdateProfile(c.Request.Context(), profile); err != nil {
		writeError(c, profileStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) listProfiles(c *gin.Context) {
	if symbol := c.Query("symbol"); symbol != "" {
		profile, err := h.profiles.GetProfileBySymbol(c.Request.Context(), symbol)
		if err != nil {
			writeError(c, profileStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, []domainprofiles.BookProfile{*profile})
		return
	}
	profiles, err := h.profiles.ListProfiles(c.Request.Context())
	if err != nil {
		writeError(c, profileStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *Handler) getProfile(c *gin.Context) {
	uid, err := parseUIDParam(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	profile, err := h.profiles.GetProfile(c.Request.Context(), uid)
	if err != nil {
		writeError(c, profileStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) deleteProfile(c *gin.Context) {
	uid, err := parseUIDParam(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.profiles.DeleteProfile(c.Request.Context(), uid); err != nil {
		writeError(c, profileStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func profileStatus(err error) int {
	switch {
	case errors.Is(err, domainprofiles.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainprofiles.ErrEmptySymbol),
		errors.Is(err, appprofiles.ErrMissingUID),
		errors.Is(err, appprofiles.ErrNilProfile),
		errors.Is(err, orderbook.ErrInvalidGrid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
