package echoapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

var uploadField = "file"

// openUpload opens the multipart CSV file sent under "file".
func openUpload(ctx echo.Context) (io.ReadCloser, error) {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return nil, errMissingFile
		}
		return nil, errors.Wrap(err, "reading form file")
	}
	return fh.Open()
}

// sendCSV sends a rendered CSV file as a download named name.
func sendCSV(ctx echo.Context, name string, buf *bytes.Buffer) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
