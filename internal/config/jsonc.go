package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// normalizeJSONC blanks comments and trailing commas in one pass. Byte
// offsets and line breaks are preserved so decode errors map back to the
// original file positions.
func normalizeJSONC(content string) (string, error) {
	out := make([]byte, 0, len(content))

	const (
		code = iota
		str
		strEscape
		lineComment
		blockComment
	)
	mode := code
	pendingComma := -1

	for i := 0; i < len(content); i++ {
		ch := content[i]

		switch mode {
		case str:
			out = append(out, ch)
			switch ch {
			case '\\':
				mode = strEscape
			case '"':
				mode = code
			}
			continue
		case strEscape:
			out = append(out, ch)
			mode = str
			continue
		case lineComment:
			if ch == '\n' || ch == '\r' {
				mode = code
				out = append(out, ch)
			} else {
				out = append(out, ' ')
			}
			continue
		case blockComment:
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				out = append(out, ' ', ' ')
				i++
				mode = code
				continue
			}
			if isJSONWhitespace(ch) {
				out = append(out, ch)
			} else {
				out = append(out, ' ')
			}
			continue
		}

		switch {
		case ch == '/' && i+1 < len(content) && content[i+1] == '/':
			out = append(out, ' ', ' ')
			i++
			mode = lineComment
		case ch == '/' && i+1 < len(content) && content[i+1] == '*':
			out = append(out, ' ', ' ')
			i++
			mode = blockComment
		case isJSONWhitespace(ch):
			out = append(out, ch)
		case ch == '}' || ch == ']':
			if pendingComma >= 0 {
				out[pendingComma] = ' '
			}
			pendingComma = -1
			out = append(out, ch)
		case ch == ',':
			pendingComma = len(out)
			out = append(out, ch)
		default:
			pendingComma = -1
			if ch == '"' {
				mode = str
			}
			out = append(out, ch)
		}
	}

	if mode == blockComment {
		return "", errors.New("unterminated block comment in JSONC")
	}
	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return errors.New("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	if strings.HasPrefix(err.Error(), "json: unknown field ") {
		if offset, ok := unknownKeyOffset(content, reflect.TypeFor[jsoncConfig]()); ok {
			line, col := offsetToLineCol(content, offset)
			return fmt.Errorf("line %d column %d: %w", line, col, err)
		}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

// unknownKeyOffset returns the 1-based offset of the first object key in
// content that has no json field in t.
func unknownKeyOffset(content string, t reflect.Type) (int64, bool) {
	return findUnknownKey(json.NewDecoder(strings.NewReader(content)), t)
}

func findUnknownKey(decoder *json.Decoder, t reflect.Type) (int64, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		var skip json.RawMessage
		_ = decoder.Decode(&skip)
		return 0, false
	}

	tok, err := decoder.Token()
	if err != nil {
		return 0, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0, false
	}

	for decoder.More() {
		keyTok, err := decoder.Token()
		if err != nil {
			return 0, false
		}
		key, _ := keyTok.(string)
		quoted, _ := json.Marshal(key)
		keyStart := decoder.InputOffset() - int64(len(quoted)) + 1

		field, ok := jsonField(t, key)
		if !ok {
			return keyStart, true
		}
		if offset, found := findUnknownKey(decoder, field.Type); found {
			return offset, true
		}
	}
	_, _ = decoder.Token()
	return 0, false
}

// jsonField matches key against t's json tags the way encoding/json does,
// ignoring case.
func jsonField(t reflect.Type, key string) (reflect.StructField, bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" {
			name = field.Name
		}
		if strings.EqualFold(name, key) {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := min(int(offset), len(content))
	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
