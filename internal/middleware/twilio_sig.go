package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// ParamsKey is where TwilioAuth leaves the parsed webhook form on the echo context.
const ParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests using the signature header.
// Twilio signs the public URL it called, so the URL is rebuilt from publicHost
// rather than from the Host header a proxy may have rewritten.
func TwilioAuth(publicHost, authToken string) echo.MiddlewareFunc {
	publicHost = strings.TrimRight(publicHost, "/")
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/twilio/") {
				return next(c)
			}
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			bodyBytes, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			params, err := formParams(bodyBytes)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}

			requestURL := publicHost + req.URL.Path
			if req.URL.RawQuery != "" {
				requestURL += "?" + req.URL.RawQuery
			}
			if !validator.Validate(requestURL, params, req.Header.Get("X-Twilio-Signature")) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}

// TwilioParams parses the webhook form without checking a signature.
func TwilioParams() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/twilio/") {
				return next(c)
			}
			bodyBytes, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			params, err := formParams(bodyBytes)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}

func formParams(body []byte) (map[string]string, error) {
	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(formData))
	for key, values := range formData {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params, nil
}
