package middleware

import (
	"compress/gzip"
	"strings"

	"github.com/gin-gonic/gin"
)

type gzipWriter struct {
	gin.ResponseWriter
	writer *gzip.Writer
	wrote  bool
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	g.wrote = true
	return g.writer.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func (g *gzipWriter) WriteHeader(code int) {
	g.Header().Del("Content-Length")
	g.ResponseWriter.WriteHeader(code)
}

// CompressConfig represents compression configuration
type CompressConfig struct {
	Level int
	// SkipPaths are matched as suffixes; streams and handlers that encode
	// their own output belong here.
	SkipPaths []string
}

// DefaultCompressConfig returns default compression configuration
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		Level: gzip.DefaultCompression,
		SkipPaths: []string{
			"/queue/events",
			"/health/metrics",
		},
	}
}

// Compress gzips responses for clients that accept it.
func Compress(config CompressConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if strings.HasSuffix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		if c.Request.Method == "HEAD" ||
			!strings.Contains(c.Request.Header.Get("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		gz, err := gzip.NewWriterLevel(c.Writer, config.Level)
		if err != nil {
			c.Next()
			return
		}

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		original := c.Writer
		gw := &gzipWriter{ResponseWriter: original, writer: gz}
		c.Writer = gw
		defer func() {
			c.Writer = original
			if gw.wrote {
				gz.Close()
				return
			}
			// Nothing was written, so the response goes out uncompressed.
			original.Header().Del("Content-Encoding")
			original.Header().Del("Vary")
		}()

		c.Next()
	}
}
