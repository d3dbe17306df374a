package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
)

func dbcOf(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

func pathID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid id %q", c.Param("id"))
	}
	return id, nil
}

func queryUUID(c *gin.Context, key string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Invalid(key, "invalid uuid %q", raw)
	}
	return &id, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(key, "must be an integer")
	}
	return n, nil
}

// page reads page/page_size; the repos clamp out-of-range values.
func page(c *gin.Context) (int, int, error) {
	p, err := queryInt(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(c, "page_size", 0)
	if err != nil {
		return 0, 0, err
	}
	return p, size, nil
}
