package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// HeaderIdempotencyKey carries the client-chosen key of a mutation.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// RedisDeduper stores processed idempotency keys in Redis so all instances
// agree on which mutations were already applied.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return "idem:" + userID + ":" + key
}

// pendingMarker holds a key whose first request has not finished yet.
const pendingMarker = "-"

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

// Remove deletes a recorded key so a failed mutation may be retried.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key, boardID string) error {
	return r.client.Set(ctx, r.key(userID, key), boardID, r.ttl).Err()
}

func (r *RedisDeduper) Lookup(ctx context.Context, userID, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) || v == pendingMarker {
		return "", nil
	}
	return v, err
}

// duplicateResponse is returned with 409 when a key was already used.
type duplicateResponse struct {
	Error string        `json:"error"`
	Board *domain.Board `json:"board,omitempty"`
}

const ctxBoardIDKey = "idempotency_board_id"

// rememberBoard names the board a handler created, for routes whose path
// carries no board.
func rememberBoard(c echo.Context, boardID string) {
	c.Set(ctxBoardIDKey, boardID)
}

// idempotent rejects replays of a mutation. The first request with a key is
// processed and the key remembers the board it changed; a replay gets 409
// with that board, reloaded for the caller, so the caller can adopt it. A
// failed mutation releases its key.
func idempotent(deduper Deduper, boards *domain.BoardService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if key == "" || deduper == nil {
				return next(c)
			}
			if len(key) > maxIdempotencyKeyLength {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "idempotency key too long"})
			}
			actor := identity(c)
			ctx := c.Request().Context()
			added, err := deduper.Add(ctx, actor.UserID, key)
			if err != nil {
				// Redis being down must not block writes.
				log.WithError(err).Warn("idempotency check failed; processing without it")
				return next(c)
			}
			if !added {
				resp := duplicateResponse{Error: "duplicate request"}
				if b, ok := replayBoard(ctx, deduper, boards, actor, key); ok {
					resp.Board = &b
				}
				return c.JSON(http.StatusConflict, resp)
			}

			// Resolve before the handler runs: deletes drop the lookup rows.
			boardID := routeBoardID(c, boards)
			err = next(c)
			bg := context.WithoutCancel(ctx)
			fields := log.Fields{"key": key, "user": actor.UserID}
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(bg, actor.UserID, key); rerr != nil {
					log.WithError(rerr).WithFields(fields).Error("dedupe rollback failed")
				}
				return err
			}
			if id, ok := c.Get(ctxBoardIDKey).(string); ok && id != "" {
				boardID = id
			}
			if boardID != "" {
				if cerr := deduper.Complete(bg, actor.UserID, key, boardID); cerr != nil {
					log.WithError(cerr).WithFields(fields).Warn("dedupe completion failed")
				}
			}
			return nil
		}
	}
}

// replayBoard reloads the board recorded for key. The actor must still be a
// member of it.
func replayBoard(ctx context.Context, deduper Deduper, boards *domain.BoardService, actor domain.Identity, key string) (domain.Board, bool) {
	boardID, err := deduper.Lookup(ctx, actor.UserID, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("idempotency lookup failed")
		return domain.Board{}, false
	}
	if boardID == "" {
		return domain.Board{}, false
	}
	b, err := boards.GetBoard(ctx, actor, boardID)
	if err != nil {
		return domain.Board{}, false
	}
	return b, true
}

// routeBoardID finds the board a mutation route addresses, or "".
func routeBoardID(c echo.Context, boards *domain.BoardService) string {
	if id := c.Param("boardId"); id != "" {
		return id
	}
	var kind domain.EntityKind
	var id string
	switch {
	case c.Param("columnId") != "":
		kind, id = domain.KindColumn, c.Param("columnId")
	case c.Param("cardId") != "":
		kind, id = domain.KindCard, c.Param("cardId")
	case c.Param("memberId") != "":
		kind, id = domain.KindMember, c.Param("memberId")
	default:
		return ""
	}
	boardID, err := boards.BoardIDOf(c.Request().Context(), kind, id)
	if err != nil {
		return ""
	}
	return boardID
}
