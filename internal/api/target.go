/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/pathfeed/internal/hpp"
)

type readPathRequest struct {
	ID *uint32 `json:"id"`
}

type readSubPathRequest struct {
	ID     *uint32  `json:"id"`
	Start  float64  `json:"start"`
	Length *float64 `json:"length"`
}

type jointNamesRequest struct {
	Names []string `json:"names"`
}

type outputRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (a *API) handleReadPath(w http.ResponseWriter, r *http.Request) {
	var req readPathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ID == nil {
		writeError(w, http.StatusBadRequest, "id_required")
		return
	}

	size, err := a.cmds.ReadPath(r.Context(), *req.ID)
	if err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": *req.ID, "size": size})
}

func (a *API) handleReadSubPath(w http.ResponseWriter, r *http.Request) {
	var req readSubPathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ID == nil || req.Length == nil {
		writeError(w, http.StatusBadRequest, "missing_required_fields")
		return
	}

	size, err := a.cmds.ReadSubPath(r.Context(), *req.ID, req.Start, *req.Length)
	if err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": *req.ID, "size": size})
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	if err := a.cmds.StartPublish(); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "publishing"})
}

func (a *API) handlePublishFirst(w http.ResponseWriter, r *http.Request) {
	if err := a.cmds.PublishFirst(r.Context()); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": ""})
}

func (a *API) handleQueueSize(w http.ResponseWriter, r *http.Request) {
	size, err := a.cmds.QueueSize()
	if err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"data": size})
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      a.cmds.State(),
		"publishing": a.cmds.Publishing(),
	})
}

func (a *API) handleJointNames(w http.ResponseWriter, r *http.Request) {
	var req jointNamesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.cmds.SetJointNames(r.Context(), req.Names); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleCenterOfMass(w http.ResponseWriter, r *http.Request) {
	req, kind, ok := decodeOutput(w, r)
	if !ok {
		return
	}
	if err := a.cmds.AddCenterOfMass(r.Context(), req.Name, kind); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (a *API) handleOperationalFrame(w http.ResponseWriter, r *http.Request) {
	req, kind, ok := decodeOutput(w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if err := a.cmds.AddOperationalFrame(r.Context(), req.Name, kind); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func decodeOutput(w http.ResponseWriter, r *http.Request) (outputRequest, hpp.Kind, bool) {
	var req outputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return req, hpp.Position, false
	}
	kind, err := hpp.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return req, hpp.Position, false
	}
	return req, kind, true
}

func (a *API) handleResetTopics(w http.ResponseWriter, r *http.Request) {
	if err := a.cmds.ResetTopics(r.Context()); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
