package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

var statusByCode = map[string]int{
	service.CodeNotFound:         fiber.StatusNotFound,
	service.CodeForbidden:        fiber.StatusForbidden,
	service.CodeAlreadyExists:    fiber.StatusConflict,
	service.CodeInvalidOperation: fiber.StatusUnprocessableEntity,
	service.CodeValidation:       fiber.StatusBadRequest,
	service.CodeAuth:             fiber.StatusUnauthorized,
}

// respondError maps a service error onto an HTTP status and the machine readable code.
// Unclassified errors are logged and hidden behind a generic message.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	code := service.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		reqLogger := middleware.RequestLogger(logger, c)
		reqLogger.Error().Err(err).Str("route", c.Path()).Msg("request failed")
		return utils.Fail(c, fiber.StatusInternalServerError, "internal server error", fiber.Map{"code": service.CodeInternal})
	}
	return utils.Fail(c, status, err.Error(), fiber.Map{"code": code})
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	if value == "" {
		return 0, fmt.Errorf("%s required", key)
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(parsed), nil
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		switch id := v.(type) {
		case string:
			return strings.TrimSpace(id)
		case uint:
			return strconv.FormatUint(uint64(id), 10)
		case fmt.Stringer:
			return strings.TrimSpace(id.String())
		}
	}
	return ""
}

func withRequestContext(c *fiber.Ctx) context.Context {
	return middleware.RequestContext(c)
}

func unauthenticated(c *fiber.Ctx) error {
	return utils.Fail(c, fiber.StatusUnauthorized, "user not authenticated", fiber.Map{"code": service.CodeAuth})
}
