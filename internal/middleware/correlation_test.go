package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func correlationApp() *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(RequestContext(c)))
	})
	return app
}

func TestCorrelationIDSources(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		header map[string]string
		want   string
	}{
		{name: "header", path: "/", header: map[string]string{HeaderCorrelationID: "abc-123"}, want: "abc-123"},
		{name: "request id", path: "/", header: map[string]string{fiber.HeaderXRequestID: "req-7"}, want: "req-7"},
		{name: "query", path: "/?correlation_id=socket-1", want: "socket-1"},
		{name: "header wins", path: "/?correlation_id=socket-1", header: map[string]string{HeaderCorrelationID: "abc"}, want: "abc"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for key, value := range tc.header {
				req.Header.Set(key, value)
			}

			resp, err := correlationApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.Header.Get(HeaderCorrelationID))

			body := make([]byte, 64)
			n, _ := resp.Body.Read(body)
			require.Equal(t, tc.want, string(body[:n]))
		})
	}
}

func TestCorrelationIDGeneratedWhenMissingOrOversized(t *testing.T) {
	for _, incoming := range []string{"", strings.Repeat("x", maxCorrelationID+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(HeaderCorrelationID, incoming)
		}

		resp, err := correlationApp().Test(req)
		require.NoError(t, err)

		_, err = uuid.Parse(resp.Header.Get(HeaderCorrelationID))
		require.NoError(t, err)
	}
}
