// Package observability provides metrics for the depot jobs service.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrKind    = "kind"
	attrSuccess = "success"
	attrHit     = "hit"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func hitAttr(hit bool) attribute.KeyValue {
	return attribute.Bool(attrHit, hit)
}

// pathTemplates maps a resource prefix to the template of its item route.
// Sub-resources keep their trailing segments, e.g. /v1/jobs/{guid}/cancel.
var pathTemplates = []struct {
	prefix      string
	placeholder string
}{
	{"/v1/jobs/", "{guid}"},
	{"/v1/data/", "{guid}"},
	{"/v1/naturallanguages/", "{code}"},
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	for _, t := range pathTemplates {
		rest, ok := strings.CutPrefix(path, t.prefix)
		if !ok || rest == "" {
			continue
		}
		id, tail, _ := strings.Cut(rest, "/")
		if t.placeholder == "{code}" && id == "match" && tail == "" {
			return path
		}
		if tail == "" {
			return t.prefix + t.placeholder
		}
		return t.prefix + t.placeholder + "/" + tail
	}
	return path
}
