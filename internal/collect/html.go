package collect

import (
	"benritz/dtd/internal/types"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gocolly/colly/v2"
)

// HTMLLoader reads the first HTML table on a web page. The first row of the
// table is the header.
type HTMLLoader struct {
	url      string
	selector string
}

func NewHTMLLoader(url string) *HTMLLoader {
	return &HTMLLoader{url: url, selector: "table"}
}

// WithSelector narrows the table lookup, e.g. "#firms".
func (l *HTMLLoader) WithSelector(selector string) *HTMLLoader {
	l.selector = selector
	return l
}

func (l *HTMLLoader) Source() string {
	u, err := url.Parse(l.url)
	if err != nil {
		return "html"
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return u.Hostname()
	}

	return strings.TrimSuffix(base, path.Ext(base))
}

func (l *HTMLLoader) Load(ctx context.Context) (*types.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x := colly.NewCollector()

	t := &types.Table{Source: l.Source()}
	found := false

	x.OnHTML(l.selector, func(e *colly.HTMLElement) {
		if found {
			return
		}

		e.ForEach("tr", func(_ int, tr *colly.HTMLElement) {
			var cells []string
			tr.ForEach("th, td", func(_ int, el *colly.HTMLElement) {
				cells = append(cells, strings.TrimSpace(el.Text))
			})

			if t.Header == nil {
				if !isEmpty(cells) {
					t.Header = cells
				}
				return
			}

			t.Rows = append(t.Rows, cells)
		})

		found = t.Header != nil
	})

	var visitErr error

	x.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("failed to get %s: http %d: %w", l.url, r.StatusCode, err)
	})

	if err := x.Visit(l.url); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("failed to get %s: %w", l.url, err)
	}

	if visitErr != nil {
		return nil, visitErr
	}

	if !found {
		return nil, types.ErrDataUnavailable
	}

	return t, nil
}
