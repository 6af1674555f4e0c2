package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

// TaskStats counts cards by workflow stage.
type TaskStats struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// DeadlineCard is a card with an upcoming due date.
type DeadlineCard struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"dueDate"`
	BoardID     string    `json:"boardId"`
	BoardTitle  string    `json:"boardTitle"`
	ColumnID    string    `json:"columnId"`
	ColumnTitle string    `json:"columnTitle"`
}

// SearchResult is a board or card matching a search query.
type SearchResult struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	BoardID     string     `json:"boardId,omitempty"`
	BoardTitle  string     `json:"boardTitle,omitempty"`
	ColumnID    string     `json:"columnId,omitempty"`
	ColumnTitle string     `json:"columnTitle,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Description string     `json:"description,omitempty"`
}

const (
	SearchTypeBoard = "board"
	SearchTypeTask  = "task"

	defaultDeadlineDays = 7
)

// Stage is the workflow stage inferred from a column title.
type Stage int

const (
	StageInProgress Stage = iota
	StageTodo
	StageDone
)

var (
	todoPatterns = []string{"todo", "to do", "to-do", "plan", "backlog", "new", "queue", "pending", "upcoming"}
	donePatterns = []string{"done", "complete", "finished", "archived", "closed"}
)

// StageOf classifies a column title. To-do patterns win over done patterns
// and unknown titles count as in progress.
func StageOf(columnTitle string) Stage {
	t := strings.ToLower(strings.TrimSpace(columnTitle))
	if t == "to" {
		return StageTodo
	}
	for _, p := range todoPatterns {
		if strings.Contains(t, p) {
			return StageTodo
		}
	}
	for _, p := range donePatterns {
		if strings.Contains(t, p) {
			return StageDone
		}
	}
	return StageInProgress
}

// DashboardService aggregates data across the boards of a user.
type DashboardService struct {
	boards *BoardService
	feed   ActivityFeed
	now    func() time.Time
}

func NewDashboardService(boards *BoardService, feed ActivityFeed) *DashboardService {
	return &DashboardService{boards: boards, feed: feed, now: func() time.Time { return time.Now().UTC() }}
}

// TaskStats counts the cards of every board the user belongs to.
func (d *DashboardService) TaskStats(ctx context.Context, actor Identity) (TaskStats, error) {
	boards, err := d.boards.ListBoards(ctx, actor)
	if err != nil {
		return TaskStats{}, err
	}
	var st TaskStats
	for _, b := range boards {
		for _, col := range b.Columns {
			stage := StageOf(col.Title)
			for _, card := range col.Cards {
				st.Total++
				switch {
				case card.Status == CardStatusCompleted || stage == StageDone:
					st.Completed++
				case stage == StageTodo:
					st.Todo++
				default:
					st.InProgress++
				}
			}
		}
	}
	return st, nil
}

// UpcomingDeadlines lists cards due between the start of today and the end
// of the window, earliest first. days <= 0 selects the default window.
func (d *DashboardService) UpcomingDeadlines(ctx context.Context, actor Identity, days int) ([]DeadlineCard, error) {
	if days <= 0 {
		days = defaultDeadlineDays
	}
	boards, err := d.boards.ListBoards(ctx, actor)
	if err != nil {
		return nil, err
	}
	now := d.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, days)
	out := []DeadlineCard{}
	for _, b := range boards {
		for _, col := range b.Columns {
			for _, card := range col.Cards {
				if card.DueDate == nil || card.DueDate.Before(start) || card.DueDate.After(end) {
					continue
				}
				out = append(out, DeadlineCard{
					ID:          card.ID,
					Title:       card.Title,
					DueDate:     *card.DueDate,
					BoardID:     b.ID,
					BoardTitle:  b.Title,
					ColumnID:    col.ID,
					ColumnTitle: col.Title,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// RecentActivity returns a page of the user's activity feed.
func (d *DashboardService) RecentActivity(ctx context.Context, actor Identity, limit, offset int) ([]Activity, error) {
	limit, offset = ClampActivityPage(limit, offset)
	items, err := d.feed.RecentActivities(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Activity{}
	}
	return items, nil
}

// Search matches board titles and card titles or descriptions, ignoring case.
func (d *DashboardService) Search(ctx context.Context, actor Identity, query string) ([]SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, invalid("search query is required")
	}
	boards, err := d.boards.ListBoards(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := []SearchResult{}
	for _, b := range boards {
		if strings.Contains(strings.ToLower(b.Title), q) {
			out = append(out, SearchResult{
				ID:          b.ID,
				Type:        SearchTypeBoard,
				Title:       b.Title,
				BoardID:     b.ID,
				BoardTitle:  b.Title,
				Description: b.Description,
			})
		}
		for _, col := range b.Columns {
			for _, card := range col.Cards {
				if !strings.Contains(strings.ToLower(card.Title), q) &&
					!strings.Contains(strings.ToLower(card.Description), q) {
					continue
				}
				out = append(out, SearchResult{
					ID:          card.ID,
					Type:        SearchTypeTask,
					Title:       card.Title,
					BoardID:     b.ID,
					BoardTitle:  b.Title,
					ColumnID:    col.ID,
					ColumnTitle: col.Title,
					DueDate:     card.DueDate,
					Description: card.Description,
				})
			}
		}
	}
	return out, nil
}
