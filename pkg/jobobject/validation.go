package jobobject

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
)

// MaxNameLength is the longest kernel object name accepted (MAX_PATH)
const MaxNameLength = 260

var namespacePrefixes = []string{`Global\`, `Local\`, `Session\`}

// ValidateName checks a group name. An empty name selects an anonymous group.
// A backslash is only allowed as part of a kernel namespace prefix.
func ValidateName(name string) error {
	if name == "" {
		return nil
	}

	if !utf8.ValidString(name) {
		return errors.NewInvalidArgumentError("group name is not valid UTF-8", nil)
	}

	if strings.ContainsRune(name, 0) {
		return errors.NewInvalidArgumentError("group name contains a NUL character", nil).WithContext("name", name)
	}

	if utf8.RuneCountInString(name) > MaxNameLength {
		return errors.NewInvalidArgumentError(
			fmt.Sprintf("group name is too long: %d characters, maximum %d", utf8.RuneCountInString(name), MaxNameLength), nil).
			WithContext("name", name)
	}

	rest := name
	if strings.HasPrefix(rest, `Session\`) {
		// Session\<id>\<name>
		parts := strings.SplitN(rest, `\`, 3)
		if len(parts) != 3 || parts[1] == "" || strings.Trim(parts[1], "0123456789") != "" {
			return errors.NewInvalidArgumentError("malformed session namespace in group name", nil).WithContext("name", name)
		}
		rest = parts[2]
	} else {
		for _, prefix := range namespacePrefixes {
			if strings.HasPrefix(rest, prefix) {
				rest = strings.TrimPrefix(rest, prefix)
				break
			}
		}
	}

	if rest == "" {
		return errors.NewInvalidArgumentError("group name is empty after namespace prefix", nil).WithContext("name", name)
	}

	if strings.ContainsRune(rest, '\\') {
		return errors.NewInvalidArgumentError("group name may not contain a backslash", nil).WithContext("name", name)
	}

	return nil
}
