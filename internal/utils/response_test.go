package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/utils"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Details map[string]interface{} `json:"details"`
}

func TestResponseEnvelopes(t *testing.T) {
	history := []map[string]interface{}{{"id": 41, "content": "hi"}, {"id": 42, "content": "there"}}

	cases := []struct {
		name    string
		handler fiber.Handler
		status  int
		success bool
		message string
		check   func(t *testing.T, body envelope)
	}{
		{
			name: "history page with cursor",
			handler: func(c *fiber.Ctx) error {
				meta := fiber.Map{"count": len(history), "next_before": "2026-01-02T03:04:05Z"}
				return utils.OK(c, history, "messages", meta)
			},
			status:  fiber.StatusOK,
			success: true,
			message: "messages",
			check: func(t *testing.T, body envelope) {
				var messages []map[string]interface{}
				require.NoError(t, json.Unmarshal(body.Data, &messages))
				require.Len(t, messages, 2)
				require.Equal(t, float64(2), body.Meta["count"])
				require.Equal(t, "2026-01-02T03:04:05Z", body.Meta["next_before"])
				require.Nil(t, body.Details)
			},
		},
		{
			name: "empty history omits meta cursor",
			handler: func(c *fiber.Ctx) error {
				return utils.OK(c, []interface{}{}, "", fiber.Map{"count": 0})
			},
			status:  fiber.StatusOK,
			success: true,
			message: "success",
			check: func(t *testing.T, body envelope) {
				require.JSONEq(t, `[]`, string(body.Data))
				require.NotContains(t, body.Meta, "next_before")
			},
		},
		{
			name: "message created",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", history[0])
			},
			status:  fiber.StatusCreated,
			success: true,
			message: "message sent",
			check: func(t *testing.T, body envelope) {
				require.JSONEq(t, `{"id":41,"content":"hi"}`, string(body.Data))
				require.Nil(t, body.Meta)
			},
		},
		{
			name: "zero status falls back to ok",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, 0, "", nil)
			},
			status:  fiber.StatusOK,
			success: true,
			message: "success",
			check: func(t *testing.T, body envelope) {
				require.Empty(t, body.Data)
			},
		},
		{
			name: "error code details",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusForbidden, "not a participant of this chat", fiber.Map{"code": "forbidden"})
			},
			status:  fiber.StatusForbidden,
			success: false,
			message: "not a participant of this chat",
			check: func(t *testing.T, body envelope) {
				require.Equal(t, "forbidden", body.Details["code"])
				require.Empty(t, body.Data)
			},
		},
		{
			name: "rate limit details",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusTooManyRequests, "rate limit exceeded", fiber.Map{"limit": 30, "window": "1m0s"})
			},
			status:  fiber.StatusTooManyRequests,
			success: false,
			message: "rate limit exceeded",
			check: func(t *testing.T, body envelope) {
				require.Equal(t, float64(30), body.Details["limit"])
				require.Equal(t, "1m0s", body.Details["window"])
			},
		},
		{
			name: "bare error without message",
			handler: func(c *fiber.Ctx) error {
				return utils.SendError(c, fiber.StatusBadRequest, "")
			},
			status:  fiber.StatusBadRequest,
			success: false,
			message: "error",
			check: func(t *testing.T, body envelope) {
				require.Nil(t, body.Details)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tc.handler)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			var body envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, tc.success, body.Success)
			require.Equal(t, tc.message, body.Message)
			tc.check(t, body)
		})
	}
}
