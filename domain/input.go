package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxTitleLength bounds board, column and card titles.
	MaxTitleLength = 200
	// MaxDescriptionLength bounds board and card descriptions.
	MaxDescriptionLength = 10000
	// MaxLabels bounds the label set of a card.
	MaxLabels = 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BoardInput carries the fields accepted when creating a board.
type BoardInput struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=10000"`
	Background  string `json:"background" validate:"max=200"`
}

// BoardUpdate carries optional board detail changes.
type BoardUpdate struct {
	Title       *string `json:"title,omitempty" validate:"omitnil,notblank,max=200"`
	Description *string `json:"description,omitempty" validate:"omitnil,max=10000"`
	Background  *string `json:"background,omitempty" validate:"omitnil,max=200"`
	IsStarred   *bool   `json:"isStarred,omitempty"`
}

// CardInput carries the fields accepted when creating a card.
type CardInput struct {
	Title       string     `json:"title" validate:"required,notblank,max=200"`
	Description string     `json:"description,omitempty" validate:"max=10000"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Labels      []string   `json:"labels,omitempty" validate:"max=20,dive,notblank,max=50"`
	AssignedTo  string     `json:"assignedTo,omitempty" validate:"max=200"`
}

// CardUpdate carries optional card field changes. A zero DueDate clears the due date.
type CardUpdate struct {
	Title       *string    `json:"title,omitempty" validate:"omitnil,notblank,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitnil,max=10000"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Labels      *[]string  `json:"labels,omitempty" validate:"omitnil,max=20,dive,notblank,max=50"`
	AssignedTo  *string    `json:"assignedTo,omitempty" validate:"omitnil,max=200"`
}

// InviteInput carries an invitation request.
type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=320"`
	Role  Role   `json:"role,omitempty" validate:"omitempty,oneof=ADMIN MEMBER"`
}

// Position addresses a card slot on a board.
type Position struct {
	ColumnID string `json:"columnId" validate:"required"`
	Index    int    `json:"index" validate:"gte=0"`
}

// Validate checks v against its validate tags. Failures wrap ErrValidationFailed.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return invalid("invalid %s", strings.Join(fields, ", "))
		}
		return invalid("%v", err)
	}
	return nil
}

func init() {
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

func requireTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title is required")
	}
	if len(title) > MaxTitleLength {
		return "", invalid("title exceeds %d characters", MaxTitleLength)
	}
	return title, nil
}

// UnmarshalJSON normalises the due date through Timestamp.
func (in *CardInput) UnmarshalJSON(data []byte) error {
	type alias CardInput
	var raw struct {
		alias
		DueDate Timestamp `json:"dueDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = CardInput(raw.alias)
	in.DueDate = timePtr(raw.DueDate)
	return nil
}

// UnmarshalJSON normalises the due date through Timestamp. An empty string
// yields a zero DueDate, which clears the due date.
func (u *CardUpdate) UnmarshalJSON(data []byte) error {
	type alias CardUpdate
	var raw struct {
		alias
		DueDate *Timestamp `json:"dueDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = CardUpdate(raw.alias)
	if raw.DueDate != nil {
		t := raw.DueDate.Time
		u.DueDate = &t
	}
	return nil
}
