package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kubev2v/texbatch/pkg/middleware"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const defaultTimeout = 60 * time.Second

// Config holds the information needed to connect to the batch service.
type Config struct {
	// Server is the base URL of the API, e.g. https://api.openai.com/v1
	Server string `json:"server"`
	// APIKey is sent as a bearer token on every request.
	APIKey string `json:"-"`
	// Timeout bounds a single HTTP request, not the life of a job.
	Timeout time.Duration `json:"timeout,omitempty"`
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	if len(c.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		u, err := url.Parse(c.Server)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: %w", c.Server, err))
		}
		if err == nil && len(u.Hostname()) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: no hostname", c.Server))
		}
	}
	if len(c.APIKey) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no api key found"))
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func (c *Config) baseURL() string {
	return strings.TrimSuffix(c.Server, "/")
}

// NewHTTPClientFromConfig returns a new HTTP Client from the given config.
func NewHTTPClientFromConfig(config *Config) *http.Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: middleware.RequestID(middleware.Logger(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		})),
	}
}
