package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadTemplate reports a run-identifier template that cannot be
	// parsed.
	ErrBadTemplate = errors.New("search: malformed desc template")
	// ErrUnknownPlaceholder reports a template placeholder that no
	// hyperparameter in the space or assignment covers.
	ErrUnknownPlaceholder = errors.New("search: desc template references unknown hyperparameter")
)

// FormatDesc fills a run-identifier template from an assignment.
// Placeholders are written {name} or {name:verb} where verb is an fmt verb
// suffix, so "lr{lr:.2e}-drop{dropout:.2f}" renders the lr value with %.2e
// and the dropout value with %.2f. A bare {name} renders with %v.
func FormatDesc(template string, a Assignment) (string, error) {
	var b strings.Builder
	err := scanTemplate(template,
		func(literal string) {
			b.WriteString(literal)
		},
		func(name, verb string) error {
			v, ok := a[name]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownPlaceholder, name)
			}
			fmt.Fprintf(&b, verb, v)
			return nil
		})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// TemplateKeys returns the placeholder names a template references, in
// order of appearance and with repeats kept.
func TemplateKeys(template string) ([]string, error) {
	var keys []string
	err := scanTemplate(template,
		func(string) {},
		func(name, _ string) error {
			keys = append(keys, name)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// scanTemplate walks a template, reporting literal runs through emit and
// each {name:verb} placeholder through placeholder with verb already in fmt
// form.
func scanTemplate(template string, emit func(string), placeholder func(name, verb string) error) error {
	for i := 0; i < len(template); {
		c := template[i]
		if c == '}' {
			return fmt.Errorf("%w: unmatched %q at offset %d", ErrBadTemplate, "}", i)
		}
		if c != '{' {
			next := strings.IndexAny(template[i:], "{}")
			if next < 0 {
				emit(template[i:])
				break
			}
			emit(template[i : i+next])
			i += next
			continue
		}

		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return fmt.Errorf("%w: unterminated placeholder at offset %d", ErrBadTemplate, i)
		}
		end += i

		name := template[i+1 : end]
		verb := "%v"
		if colon := strings.IndexByte(name, ':'); colon >= 0 {
			verb = "%" + name[colon+1:]
			name = name[:colon]
		}
		if name == "" || verb == "%" {
			return fmt.Errorf("%w: empty placeholder at offset %d", ErrBadTemplate, i)
		}
		if err := placeholder(name, verb); err != nil {
			return err
		}
		i = end + 1
	}
	return nil
}
