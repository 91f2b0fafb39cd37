package dmoj

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseSolved extracts CCC progress from a "/user/{name}/solved" page.
// Keys are problem paths such as "/problem/ccc15j1", values are rounded
// percentages.
func ParseSolved(r io.Reader) (map[string]int, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse solved page: %w", err)
	}

	result := make(map[string]int)
	for _, group := range findAll(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, "user-problem-group")
	}) {
		if !strings.Contains(textContent(group), "CCC") {
			continue
		}
		for _, row := range groupRows(group) {
			href, pct, ok := parseRow(row)
			if !ok {
				continue
			}
			result[href] = pct
		}
	}
	return result, nil
}

// groupRows returns the tr elements of the group's table > tbody.
func groupRows(group *html.Node) []*html.Node {
	var rows []*html.Node
	for table := group.FirstChild; table != nil; table = table.NextSibling {
		if table.DataAtom != atom.Table {
			continue
		}
		for body := table.FirstChild; body != nil; body = body.NextSibling {
			if body.DataAtom != atom.Tbody {
				continue
			}
			for tr := body.FirstChild; tr != nil; tr = tr.NextSibling {
				if tr.DataAtom == atom.Tr {
					rows = append(rows, tr)
				}
			}
		}
	}
	return rows
}

func parseRow(row *html.Node) (string, int, bool) {
	var href, score string
	var haveHref, haveScore bool

	for td := row.FirstChild; td != nil; td = td.NextSibling {
		if td.DataAtom != atom.Td {
			continue
		}
		link := firstChild(td, atom.A)
		if link == nil {
			continue
		}
		switch {
		case hasClass(td, "problem-name"):
			href, haveHref = attr(link, "href")
		case hasClass(td, "problem-score"):
			score, haveScore = strings.TrimSpace(textContent(link)), true
		}
	}
	if !haveHref || !haveScore {
		return "", 0, false
	}

	pct, err := percentage(score)
	if err != nil {
		return "", 0, false
	}
	return href, pct, true
}

// percentage turns "score/total" into round(score/total*100).
func percentage(s string) (int, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("malformed score %q", s)
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, fmt.Errorf("malformed score %q", s)
	}
	return int(math.RoundToEven(score / total * 100)), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DOM helpers
// ─────────────────────────────────────────────────────────────────────────────

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func firstChild(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == a {
			return c
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
