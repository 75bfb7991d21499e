package utils

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ParseRedisURL turns a redis:// or rediss:// URL, or a bare host:port, into client options.
func ParseRedisURL(connectionString string) (*redis.Options, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("empty Redis URL")
	}
	if !strings.HasPrefix(connectionString, "redis://") && !strings.HasPrefix(connectionString, "rediss://") {
		return &redis.Options{Addr: connectionString}, nil
	}

	parsedURL, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts := &redis.Options{Addr: parsedURL.Host}
	if parsedURL.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if parsedURL.User != nil {
		opts.Username = parsedURL.User.Username()
		if password, ok := parsedURL.User.Password(); ok {
			opts.Password = password
		}
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		db, err := strconv.Atoi(strings.TrimPrefix(parsedURL.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid Redis database %q: %w", parsedURL.Path, err)
		}
		opts.DB = db
	}
	return opts, nil
}
