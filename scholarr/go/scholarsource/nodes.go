package scholarsource

import (
	"strings"

	"golang.org/x/net/html"
)

// findFirst returns the first node in depth-first order for which match
// returns true, or nil.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every node in depth-first order for which match returns
// true. Matching nodes' subtrees are not searched again, so nested matches
// inside a match are excluded.
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// findByID returns the element with the given id attribute, or nil.
func findByID(n *html.Node, id string) *html.Node {
	return findFirst(n, func(n *html.Node) bool {
		return attr(n, "id") == id
	})
}

// attr returns the value of the named attribute, or the empty string.
func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

// lookupAttr returns the value of the named attribute and whether it is
// present; boolean HTML attributes like "disabled" are present with an empty
// value.
func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// hasClass returns true if the node's class attribute contains the given
// class.
func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// text returns the concatenated text content of the subtree, with whitespace
// runs collapsed and the ends trimmed.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
