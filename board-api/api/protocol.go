package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/molly1022/TMS-Dashboard/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type moveColumnRequest struct {
	SourceIndex      int `json:"sourceIndex"`
	DestinationIndex int `json:"destinationIndex"`
}

type moveCardRequest struct {
	Source      domain.Position `json:"source"`
	Destination domain.Position `json:"destination"`
}

type profileRequest struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

var errEmptyBody = errors.New("empty body")

// decodeBody reads a size-limited JSON body into v, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// SonicSerializer encodes echo responses with sonic.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := decodeBody(c, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
