package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dixcover/dixcover/internal/validate"
)

const (
	sourceMaster = "all_subdomains"
	sourceAlive  = "alive_subdomains"

	defaultPerPage = 50
	maxPerPage     = 100
)

// cursor is the opaque pagination token: base64 of this JSON.
type cursor struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func encodeCursor(limit, offset int) string {
	raw, _ := json.Marshal(cursor{Limit: limit, Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}

type listMeta struct {
	Count  int    `json:"count"`
	Cursor string `json:"cursor"`
}

type listLinks struct {
	Self string `json:"self"`
	Next string `json:"next"`
}

type listResponse struct {
	Data  any       `json:"data"`
	Meta  listMeta  `json:"meta"`
	Links listLinks `json:"links"`
}

func (s *Server) handleDomainsData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	domain := validate.Normalize(q.Get("domain"))
	if !validate.IsApex(domain) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("not a registrable apex domain: %q", domain))
		return
	}

	source := q.Get("source")
	if source != sourceMaster && source != sourceAlive {
		writeError(w, http.StatusBadRequest, "source must be all_subdomains or alive_subdomains")
		return
	}

	page := 0
	if raw := q.Get("page"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
			return
		}
		page = n
	}
	perPage := defaultPerPage
	if raw := q.Get("per_page"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil || n < 1 || n > maxPerPage {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("per_page must be between 1 and %d", maxPerPage))
			return
		}
		perPage = n
	}

	session, err := s.store.Session(r.Context())
	if err != nil {
		s.logger.Error("server: session acquire failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer session.Close()

	offset := page * perPage
	var (
		count int
		data  any
	)
	if source == sourceMaster {
		count, err = session.CountMaster(r.Context(), domain)
		if err == nil {
			data, err = session.ListMaster(r.Context(), domain, perPage, offset)
		}
	} else {
		count, err = session.CountAlive(r.Context(), domain)
		if err == nil {
			data, err = session.ListAlive(r.Context(), domain, perPage, offset)
		}
	}
	if err != nil {
		s.logger.Error("server: inventory query failed", "source", source, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hasNext := offset+perPage < count
	meta := listMeta{Count: count}
	links := listLinks{Self: pageURL(r.URL, page)}
	if hasNext {
		meta.Cursor = encodeCursor(perPage, offset+perPage)
		links.Next = pageURL(r.URL, page+1)
	}

	w.Header().Set("X-Page", strconv.Itoa(page))
	w.Header().Set("X-Per-Page", strconv.Itoa(perPage))
	w.Header().Set("X-Total-Count", strconv.Itoa(count))
	writeJSON(w, http.StatusOK, listResponse{Data: data, Meta: meta, Links: links})
}

// pageURL rewrites the request URL with the given page number.
func pageURL(u *url.URL, page int) string {
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	out := *u
	out.RawQuery = q.Encode()
	return out.String()
}

// parsePositiveInt parses a non-negative integer query value.
func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a non-negative integer: %q", raw)
	}
	return n, nil
}

// normalizeForMessage mirrors the normalization the scanner applies so the
// confirmation message echoes the stored apex.
func normalizeForMessage(domain string) string {
	return validate.Normalize(domain)
}
