package restapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// Properties stamped on every write when the schema declares them.
const (
	fieldModified    = "modified"
	fieldModifiedGMT = "modified_gmt"
)

// update applies a write to an existing resource. Every argument is
// sanitized and validated and all failures are reported together; nothing
// is stored unless the whole body is valid.
func (s *Server) update(ctx context.Context, rt *route, id int64, req *rest.Request) *rest.Response {
	current, err := s.store.Get(ctx, rt.typ.Base, id)
	if errors.Is(err, ports.ErrNotFound) {
		return rest.NewError(http.StatusNotFound, rest.CodeInvalidID, "Invalid resource ID.")
	}
	if err != nil {
		return s.internal(err)
	}

	body := map[string]any{}
	if len(req.Body) > 0 {
		decoded, err := resource.Decode(req.Body)
		if err != nil || decoded == nil {
			return rest.NewError(http.StatusBadRequest, rest.CodeInvalidJSON, "Invalid JSON body passed.")
		}
		body = decoded
	}

	clean, result := rt.args.Apply(body, true)
	if !result.Valid {
		if s.metrics != nil {
			for _, field := range result.Fields() {
				s.metrics.RecordValidationFailure(field)
			}
		}
		resp := rest.NewError(http.StatusBadRequest, rest.CodeInvalidParam, result.Summary())
		resp.Err().Data.Params = result.Params()
		return resp
	}

	next := current.Clone()
	written := make(map[string]bool)
	for _, d := range rt.fields {
		v, ok := clean[d.Name]
		if !ok || d.ReadOnly() {
			continue
		}
		if d.Kind == routeschema.KindRawRendered {
			pair, err := s.renderPair(v)
			if err != nil {
				return s.internal(err)
			}
			v = pair
		}
		next[d.Name] = v
		written[d.Name] = true
	}

	if err := s.syncDates(rt.fields, next, written); err != nil {
		return rest.NewError(http.StatusBadRequest, rest.CodeInvalidParam, err.Error())
	}
	s.stampModified(rt.typ, next)
	next["id"] = float64(id)

	if err := s.store.Put(ctx, rt.typ.Base, id, next); err != nil {
		return s.internal(err)
	}
	s.logger.Info().
		Str("type", rt.typ.Base).
		Int64("id", id).
		Int("fields", len(written)).
		Msg("resource updated")

	return rest.NewResponse(http.StatusOK, s.prepare(ctx, rt.typ, next, req, true))
}

// renderPair turns a written raw/rendered value into the stored pair. The
// client may send the pair or the raw string alone; rendered is always
// derived from raw.
func (s *Server) renderPair(v any) (map[string]any, error) {
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case map[string]any:
		raw, _ = t["raw"].(string)
	}
	rendered, err := s.renderer.Render(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": raw, "rendered": rendered}, nil
}

// syncDates normalizes written local date-times to the site timezone and
// recomputes their GMT twins.
func (s *Server) syncDates(fields []routeschema.FieldDescriptor, next map[string]any, written map[string]bool) error {
	for _, d := range fields {
		if d.Kind != routeschema.KindGMTTwin || !written[d.Base] {
			continue
		}
		text, ok := next[d.Base].(string)
		if !ok || text == "" {
			continue
		}
		local, err := s.localTime(text)
		if err != nil {
			return err
		}
		next[d.Base] = local.Format(validation.LocalLayout)
		next[d.Name] = local.UTC().Format(validation.LocalLayout)
	}
	return nil
}

// localTime reads a date-time in the site timezone. A value with an offset
// is converted; one without is taken as site-local wall time.
func (s *Server) localTime(text string) (time.Time, error) {
	t, zoned, err := validation.ParseDateTime(text)
	if err != nil {
		return time.Time{}, err
	}
	if zoned {
		return t.In(s.loc), nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), s.loc), nil
}

func (s *Server) stampModified(typ *TypeDef, next map[string]any) {
	now := s.clock.Now()
	if typ.Schema.Field(fieldModified) != nil {
		next[fieldModified] = now.In(s.loc).Format(validation.LocalLayout)
	}
	if typ.Schema.Field(fieldModifiedGMT) != nil {
		next[fieldModifiedGMT] = now.UTC().Format(validation.LocalLayout)
	}
}
