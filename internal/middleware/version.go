package middleware

import (
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

// VersionConfig represents version middleware configuration
type VersionConfig struct {
	HeaderName     string
	DefaultVersion string
	Supported      []string
	// Deprecated maps a supported version to its sunset date.
	Deprecated map[string]string
}

func DefaultVersionConfig() VersionConfig {
	return VersionConfig{
		HeaderName:     "Accept-Version",
		DefaultVersion: "1.0",
		Supported:      []string{"1.0"},
	}
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Version negotiates the API version from the request header and echoes the
// chosen one in X-API-Version.
func Version(config VersionConfig) gin.HandlerFunc {
	supported := make(map[string]bool, len(config.Supported))
	for _, v := range config.Supported {
		supported[v] = true
	}

	return func(c *gin.Context) {
		requested := c.GetHeader(config.HeaderName)
		if requested == "" {
			requested = config.DefaultVersion
		}

		if !versionPattern.MatchString(requested) {
			c.Error(apperrors.BadRequest("invalid version format, use major.minor", nil))
			c.Abort()
			return
		}
		if !supported[requested] {
			c.Error(apperrors.NewNotAcceptable(fmt.Sprintf("API version %s not supported", requested)))
			c.Abort()
			return
		}

		c.Set("api_version", requested)
		c.Header("X-API-Version", requested)
		if sunset, ok := config.Deprecated[requested]; ok {
			c.Header("Deprecation", "true")
			c.Header("Sunset", sunset)
		}

		c.Next()
	}
}
