package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

var (
	errNotNumber  = errors.New("not a number")
	errNotInteger = errors.New("not an integer")
	errNotBoolean = errors.New("not a boolean")
	errNotOption  = errors.New("not one of the allowed values")
)

// coerce turns widget text into a JSON value for the field.
func (w *Widget) coerce(text string) (any, error) {
	nullable := w.schema != nil && w.schema.Type.Has(routeschema.TypeNull)

	switch w.kind {
	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, err
		}
		if w.name == "" {
			if _, ok := v.(map[string]any); !ok {
				return nil, ErrNotObject
			}
		}
		return v, nil

	case KindNumber:
		s := strings.TrimSpace(text)
		if s == "" && nullable {
			return nil, nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, errNotNumber
		}
		if w.schema.Type.Primary() == routeschema.TypeInteger && n != math.Trunc(n) {
			return nil, errNotInteger
		}
		return n, nil

	case KindToggle:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "true", "1", "on", "yes":
			return true, nil
		case "false", "0", "off", "no", "":
			return false, nil
		}
		return nil, errNotBoolean

	case KindSelect:
		if text == "" && nullable {
			return nil, nil
		}
		for _, opt := range w.constraints.Options {
			if opt == text {
				return text, nil
			}
		}
		return nil, errNotOption

	case KindDateTime:
		s := strings.TrimSpace(text)
		if s == "" {
			if nullable {
				return nil, nil
			}
			return "", nil
		}
		t, zoned, err := validation.ParseDateTime(s)
		if err != nil {
			return nil, err
		}
		if zoned {
			return s, nil
		}
		return s + w.form.zoneSuffix(w.gmt, t), nil

	default:
		return text, nil
	}
}

// format renders a value as widget text.
func (w *Widget) format(v any) string {
	if v == nil {
		return ""
	}
	switch w.kind {
	case KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	case KindNumber:
		if n, ok := v.(float64); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	case KindToggle:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b)
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// zoneSuffix is "Z" for GMT fields and the configured offset otherwise.
// The offset is taken at the wall-clock time t so DST is respected.
func (f *Form) zoneSuffix(gmt bool, t time.Time) string {
	if gmt {
		return "Z"
	}
	loc := f.loc
	if loc == nil {
		loc = time.UTC
	}
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	return local.Format("-07:00")
}

func equalJSON(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
