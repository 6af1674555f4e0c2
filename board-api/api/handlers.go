package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards *domain.BoardService, dash *domain.DashboardService, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/healthz", healthz)

	g := e.Group("/api", RequestMetrics(logger), RequireIdentity(auth))
	once := idempotent(deduper, boards)

	g.GET("/boards", listBoards(boards))
	g.POST("/boards", createBoard(boards), mutation("create_board"), once)
	g.GET("/boards/:boardId", getBoard(boards))
	g.PATCH("/boards/:boardId", updateBoard(boards), mutation("update_board"), once)
	g.DELETE("/boards/:boardId", deleteBoard(boards), mutation("delete_board"))

	g.POST("/boards/:boardId/columns", createColumn(boards), mutation("create_column"), once)
	g.POST("/boards/:boardId/columns/move", moveColumn(boards), mutation("move_column"), once)
	g.PATCH("/columns/:columnId", updateColumn(boards), mutation("update_column"), once)
	g.DELETE("/columns/:columnId", deleteColumn(boards), mutation("delete_column"), once)

	g.POST("/columns/:columnId/cards", createCard(boards), mutation("create_card"), once)
	g.POST("/boards/:boardId/cards/move", moveCard(boards), mutation("move_card"), once)
	g.PATCH("/cards/:cardId", updateCard(boards), mutation("update_card"), once)
	g.POST("/cards/:cardId/complete", completeCard(boards), mutation("complete_card"), once)
	g.DELETE("/cards/:cardId", deleteCard(boards), mutation("delete_card"), once)

	g.GET("/boards/:boardId/members", listMembers(boards))
	g.POST("/boards/:boardId/members", inviteMember(boards), mutation("invite_member"), once)
	g.DELETE("/boards/:boardId/members/:memberId", removeMember(boards), mutation("remove_member"), once)
	g.POST("/invitations/:memberId/accept", acceptInvitation(boards), mutation("accept_invitation"), once)
	g.POST("/invitations/:memberId/decline", declineInvitation(boards), mutation("decline_invitation"))

	g.PUT("/users/me", syncUser(boards))

	g.GET("/dashboard/stats", taskStats(dash))
	g.GET("/dashboard/deadlines", deadlines(dash))
	g.GET("/dashboard/activity", recentActivity(dash))
	g.GET("/search", search(dash))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(http.StatusText(status))
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("route", c.Path()).Error("request failed")
		return c.JSON(status, errorResponse{Error: "internal error"})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badBody(c echo.Context, err error) error {
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage("decode")
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
}

func respond[T any](c echo.Context, status int, v T, err error) error {
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(status, v)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func listBoards(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := boards.ListBoards(c.Request().Context(), identity(c))
		if list == nil {
			list = []domain.Board{}
		}
		return respond(c, http.StatusOK, list, err)
	}
}

func createBoard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.BoardInput
		if err := decodeBody(c, &in); err != nil {
			return badBody(c, err)
		}
		b, err := boards.CreateBoard(c.Request().Context(), identity(c), in)
		if err == nil {
			rememberBoard(c, b.ID)
		}
		return respond(c, http.StatusCreated, b, err)
	}
}

func getBoard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.GetBoard(c.Request().Context(), identity(c), c.Param("boardId"))
		return respond(c, http.StatusOK, b, err)
	}
}

func updateBoard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var upd domain.BoardUpdate
		if err := decodeBody(c, &upd); err != nil {
			return badBody(c, err)
		}
		b, err := boards.UpdateBoard(c.Request().Context(), identity(c), c.Param("boardId"), upd)
		return respond(c, http.StatusOK, b, err)
	}
}

func deleteBoard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteBoard(c.Request().Context(), identity(c), c.Param("boardId")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func createColumn(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c, err)
		}
		b, err := boards.CreateColumn(c.Request().Context(), identity(c), c.Param("boardId"), req.Title)
		return respond(c, http.StatusCreated, b, err)
	}
}

func moveColumn(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c, err)
		}
		b, err := boards.MoveColumn(c.Request().Context(), identity(c), c.Param("boardId"), req.SourceIndex, req.DestinationIndex)
		return respond(c, http.StatusOK, b, err)
	}
}

func updateColumn(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c, err)
		}
		col, err := boards.UpdateColumn(c.Request().Context(), identity(c), c.Param("columnId"), req.Title)
		return respond(c, http.StatusOK, col, err)
	}
}

func deleteColumn(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.DeleteColumn(c.Request().Context(), identity(c), c.Param("columnId"))
		return respond(c, http.StatusOK, b, err)
	}
}

func createCard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.CardInput
		if err := decodeBody(c, &in); err != nil {
			return badBody(c, err)
		}
		b, err := boards.CreateCard(c.Request().Context(), identity(c), c.Param("columnId"), in)
		return respond(c, http.StatusCreated, b, err)
	}
}

func moveCard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveCardRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c, err)
		}
		b, err := boards.MoveCard(c.Request().Context(), identity(c), c.Param("boardId"), req.Source, req.Destination)
		return respond(c, http.StatusOK, b, err)
	}
}

func updateCard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var upd domain.CardUpdate
		if err := decodeBody(c, &upd); err != nil {
			return badBody(c, err)
		}
		card, err := boards.UpdateCard(c.Request().Context(), identity(c), c.Param("cardId"), upd)
		return respond(c, http.StatusOK, card, err)
	}
}

func completeCard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		card, err := boards.CompleteCard(c.Request().Context(), identity(c), c.Param("cardId"))
		return respond(c, http.StatusOK, card, err)
	}
}

func deleteCard(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.DeleteCard(c.Request().Context(), identity(c), c.Param("cardId"))
		return respond(c, http.StatusOK, b, err)
	}
}

func listMembers(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		members, err := boards.ListMembers(c.Request().Context(), identity(c), c.Param("boardId"))
		return respond(c, http.StatusOK, members, err)
	}
}

func inviteMember(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.InviteInput
		if err := decodeBody(c, &in); err != nil {
			return badBody(c, err)
		}
		b, err := boards.InviteMember(c.Request().Context(), identity(c), c.Param("boardId"), in)
		return respond(c, http.StatusCreated, b, err)
	}
}

func removeMember(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.RemoveMember(c.Request().Context(), identity(c), c.Param("boardId"), c.Param("memberId"))
		return respond(c, http.StatusOK, b, err)
	}
}

func acceptInvitation(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.AcceptInvitation(c.Request().Context(), identity(c), c.Param("memberId"))
		return respond(c, http.StatusOK, b, err)
	}
}

func declineInvitation(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeclineInvitation(c.Request().Context(), identity(c), c.Param("memberId")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// syncUser stores the caller's display attributes. Token claims win unless
// the token carries none.
func syncUser(boards *domain.BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req profileRequest
		if c.Request().ContentLength != 0 {
			if err := decodeBody(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
				return badBody(c, err)
			}
		}
		actor := identity(c)
		if actor.Name == "" {
			actor.Name = strings.TrimSpace(req.Name)
		}
		if actor.Email == "" {
			actor.Email = strings.TrimSpace(req.Email)
		}
		id, err := boards.SyncUser(c.Request().Context(), actor)
		return respond(c, http.StatusOK, id, err)
	}
}

func taskStats(dash *domain.DashboardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := dash.TaskStats(c.Request().Context(), identity(c))
		return respond(c, http.StatusOK, st, err)
	}
}

func deadlines(dash *domain.DashboardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		days, err := queryInt(c, "days", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		list, err := dash.UpcomingDeadlines(c.Request().Context(), identity(c), days)
		return respond(c, http.StatusOK, list, err)
	}
}

func recentActivity(dash *domain.DashboardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, err := queryInt(c, "limit", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		items, err := dash.RecentActivity(c.Request().Context(), identity(c), limit, offset)
		return respond(c, http.StatusOK, items, err)
	}
}

func search(dash *domain.DashboardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		results, err := dash.Search(c.Request().Context(), identity(c), c.QueryParam("q"))
		return respond(c, http.StatusOK, results, err)
	}
}
