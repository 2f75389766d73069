package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

// maxBodyBytes bounds request bodies read by ServeHTTP.
const maxBodyBytes = 1 << 20

// ServeHTTP serves the API over HTTP. The request path is taken relative to
// the mount point, so the server is installed behind http.StripPrefix.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &rest.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	if req.Path == "" {
		req.Path = "/"
	}
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeResponse(w, rest.NewError(http.StatusBadRequest, rest.CodeInvalidJSON, "Invalid JSON body passed."))
			return
		}
		req.Body = body
	}

	resp := s.Dispatch(r.Context(), req)
	if r.Method == http.MethodGet {
		if match := r.Header.Get("If-None-Match"); match != "" && match == resp.Header.Get("ETag") {
			copyHeader(w.Header(), resp.Header)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *rest.Response) {
	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Type", rest.ContentTypeJSON)
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Data)
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// Seed stores the seed resources of every type in the route table. Existing
// resources with the same id are replaced. It returns the number stored.
func (s *Server) Seed(ctx context.Context) (int, error) {
	n := 0
	for _, typ := range s.table.Types {
		for _, r := range typ.Seed {
			id, _ := seedID(r)
			doc := r.Clone()
			doc["id"] = float64(id)
			if err := s.store.Put(ctx, typ.Base, id, doc); err != nil {
				return n, fmt.Errorf("seed %s %d: %w", typ.Base, id, err)
			}
			n++
		}
	}
	s.logger.Info().Int("resources", n).Msg("route table seeded")
	return n, nil
}
