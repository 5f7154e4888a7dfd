// Package template provides the text/template based expression evaluator used
// to resolve node parameters.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const delimiter = "{{"

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, delimiter)
}

// Render executes templateStr against data and converts the output back to a
// JSON value, number or boolean when it looks like one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("parameter").
		Option("missingkey=zero").
		Funcs(funcs(data)).
		Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return convert(buf.String(), templateStr)
}

func convert(output, templateStr string) (any, error) {
	result := strings.TrimSpace(output)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	if result == "<no value>" {
		return nil, nil
	}

	return result, nil
}

func funcs(data any) template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
		// node returns the outputs of a succeeded node, keyed by port.
		"node": func(id string) any {
			scope, ok := data.(map[string]any)
			if !ok {
				return nil
			}

			nodes, ok := scope["nodes"].(map[string]any)
			if !ok {
				return nil
			}

			return nodes[id]
		},
		"json": func(v any) (string, error) {
			out, err := json.Marshal(v)
			if err != nil {
				return "", err
			}

			return string(out), nil
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"default": func(fallback, v any) any {
			if v == nil || v == "" {
				return fallback
			}

			return v
		},
	}
}
