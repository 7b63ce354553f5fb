// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"coordinator/internal/task"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSuccess = "success"
	attrFrom    = "from"
	attrTo      = "to"
	attrEvent   = "event"
	attrOp      = "op"
	attrOutcome = "outcome"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// /tasks/abc123 -> /tasks/{taskId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func fromAttr(s task.State) attribute.KeyValue {
	return attribute.String(attrFrom, string(s))
}

func toAttr(s task.State) attribute.KeyValue {
	return attribute.String(attrTo, string(s))
}

func eventAttr(ev task.Event) attribute.KeyValue {
	return attribute.String(attrEvent, string(ev))
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

// normalizePath replaces task ids with a placeholder to bound cardinality.
func normalizePath(path string) string {
	const prefix = "/tasks/"
	if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
		return "/tasks/{taskId}"
	}
	return path
}
