package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// parseTimeRange resolves the from/to window for history queries. Absolute
// bounds come from RFC3339 `from`/`to` params; a relative `range` param
// ("15m", "24h", "7d") anchors the window at now and wins over `from`.
func parseTimeRange(c *gin.Context) (time.Time, time.Time) {
	to := time.Now()
	from := to.Add(-1 * time.Hour) // Default: last hour

	if fromStr := c.Query("from"); fromStr != "" {
		if parsed, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = parsed
		}
	}

	if toStr := c.Query("to"); toStr != "" {
		if parsed, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = parsed
		}
	}

	if rangeStr := c.Query("range"); rangeStr != "" {
		from = to.Add(-parseDuration(rangeStr))
	}

	return from, to
}

func parseLimit(c *gin.Context, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if maxLimit > 0 && limit > maxLimit {
				limit = maxLimit
			}
		}
	}
	return limit
}

func parseDuration(s string) time.Duration {
	if len(s) < 2 {
		return time.Hour
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return time.Hour
	}

	switch unit {
	case 's':
		return time.Duration(value) * time.Second
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Hour
	}
}
