// Package config handles zipline.yaml and manifest loading.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches $${...} escapes and ${VAR}, ${VAR:-default} and
// ${VAR:?message} references.
var envRef = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in config and manifest text.
//
//	${VAR}            value of VAR, empty when unset
//	${VAR:-default}   default when VAR is unset or empty
//	${VAR:?message}   error when VAR is unset or empty
//	$${VAR}           literal ${VAR}
//
// Signed URLs and bearer tokens are the usual reason to reach for :?.
func ExpandEnv(input string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(input, func(match string) string {
		if strings.HasPrefix(match, "$$") {
			return match[1:]
		}
		m := envRef.FindStringSubmatch(match)
		name, op, arg := m[1], m[2], m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			if arg == "" {
				arg = "required"
			}
			missing = append(missing, name+": "+arg)
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unset environment variables: %s", strings.Join(missing, "; "))
	}
	return out, nil
}
