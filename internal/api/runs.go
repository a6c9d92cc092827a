/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/pathfeed/internal/history"
)

func (a *API) handleRunsList(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}

	q := r.URL.Query()
	filter := history.ListFilter{Outcome: q.Get("outcome")}

	if v := q.Get("path_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_path_id")
			return
		}
		pathID := uint32(id)
		filter.PathID = &pathID
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+name)
			return
		}
		*dst = n
	}

	runs, err := a.runs.List(r.Context(), filter)
	if err != nil {
		a.logger.Error().Err(err).Msg("list runs failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *API) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}

	run, err := a.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("get run failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
