package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"staybook/internal/api/middleware"
	"staybook/internal/core"
)

// UnavailableMessage is shown to clients instead of PMS failure details
const UnavailableMessage = "temporarily unavailable"

// respondError maps domain errors to HTTP responses
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			"component", "api",
			"request_id", c.GetString(middleware.RequestIDKey),
			"path", c.Request.URL.Path,
			"error", err,
		)
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, core.ErrTooManyGuests):
		return http.StatusBadRequest, gin.H{"error": clientMessage(err), "code": "TOO_MANY_GUESTS"}
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, gin.H{"error": clientMessage(err), "code": "VALIDATION_ERROR"}
	case errors.Is(err, core.ErrRoomNotFound):
		return http.StatusNotFound, gin.H{"error": "Room not found", "code": "ROOM_NOT_FOUND"}
	case errors.Is(err, core.ErrBookingNotFound):
		return http.StatusNotFound, gin.H{"error": "Booking not found", "code": "BOOKING_NOT_FOUND"}
	case errors.Is(err, core.ErrRoomNotBookable):
		return http.StatusConflict, gin.H{"error": "Room is not available for these dates", "code": "ROOM_NOT_AVAILABLE"}
	case errors.Is(err, core.ErrBookingNotActive):
		return http.StatusConflict, gin.H{"error": "Booking is not active", "code": "BOOKING_NOT_ACTIVE"}
	case errors.Is(err, core.ErrPMSUnavailable),
		errors.Is(err, core.ErrAuth),
		errors.Is(err, core.ErrPMSTransport),
		errors.Is(err, core.ErrPMSResponse),
		errors.Is(err, core.ErrCache):
		return http.StatusServiceUnavailable, gin.H{"error": "Availability " + UnavailableMessage, "code": "AVAILABILITY_UNAVAILABLE"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": "Request timed out", "code": "TIMEOUT"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "INTERNAL_ERROR"}
	}
}

// clientMessage strips the sentinel prefix from validation errors
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{core.ErrValidation, core.ErrTooManyGuests} {
		prefix := sentinel.Error() + ": "
		if i := strings.LastIndex(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": message,
		"code":  code,
	})
}

// stayQuery reads start, end, adults and children query parameters
func stayQuery(c *gin.Context) (core.DateRange, core.Guests, bool) {
	start, end := c.Query("start"), c.Query("end")
	if start == "" || end == "" {
		badRequest(c, "INVALID_REQUEST", "start and end are required (YYYY-MM-DD)")
		return core.DateRange{}, core.Guests{}, false
	}
	r, err := core.ParseDateRange(start, end)
	if err != nil {
		badRequest(c, "INVALID_DATE_RANGE", clientMessage(err))
		return core.DateRange{}, core.Guests{}, false
	}

	adults, ok := intQuery(c, "adults", 1)
	if !ok {
		return core.DateRange{}, core.Guests{}, false
	}
	children, ok := intQuery(c, "children", 0)
	if !ok {
		return core.DateRange{}, core.Guests{}, false
	}

	guests := core.Guests{Adults: adults, Children: children}
	if err := guests.Validate(); err != nil {
		badRequest(c, "INVALID_GUESTS", clientMessage(err))
		return core.DateRange{}, core.Guests{}, false
	}
	return r, guests, true
}

func intQuery(c *gin.Context, name string, defaultValue int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "INVALID_REQUEST", name+" must be an integer")
		return 0, false
	}
	return value, true
}
