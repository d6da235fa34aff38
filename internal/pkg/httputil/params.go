package httputil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParseIntParam parses a positive integer query parameter with a default value
func ParseIntParam(c *gin.Context, param string, defaultValue int) int {
	if value := c.Query(param); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// ParseBoolParam parses a boolean query parameter with a default value
func ParseBoolParam(c *gin.Context, param string, defaultValue bool) bool {
	if value := c.Query(param); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// RequiredParam extracts a required path parameter
func RequiredParam(c *gin.Context, param string) (string, error) {
	value := strings.TrimSpace(c.Param(param))
	if value == "" {
		return "", fmt.Errorf("required parameter '%s' is missing", param)
	}
	return value, nil
}

// IndexParam extracts a non-negative integer path parameter
func IndexParam(c *gin.Context, param string) (int, error) {
	value, err := RequiredParam(c, param)
	if err != nil {
		return 0, err
	}
	index, err := strconv.Atoi(value)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("parameter '%s' must be a non-negative integer", param)
	}
	return index, nil
}

