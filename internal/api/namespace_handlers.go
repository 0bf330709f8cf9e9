// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/netns"
	"grimm.is/pernet/internal/sysctl"
)

// NamespaceView is the JSON form of a namespace.
type NamespaceView struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Default bool      `json:"default"`
	Created time.Time `json:"created"`
	MPTCP   bool      `json:"mptcp_enabled"`
	Sysctl  []string  `json:"sysctl,omitempty"`
}

// SysctlValue is the body of sysctl reads and writes.
type SysctlValue struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type createNamespaceRequest struct {
	Name string `json:"name"`
}

// RegisterNamespaceRoutes registers namespace and sysctl routes.
func RegisterNamespaceRoutes(router *mux.Router, s *Server) {
	router.HandleFunc("/namespaces", s.handleListNamespaces).Methods("GET")
	router.HandleFunc("/namespaces", s.handleCreateNamespace).Methods("POST")
	router.HandleFunc("/namespaces/{id}", s.handleGetNamespace).Methods("GET")
	router.HandleFunc("/namespaces/{id}", s.handleDeleteNamespace).Methods("DELETE")
	router.HandleFunc("/namespaces/{id}/sysctl/{path:.+}", s.handleReadSysctl).Methods("GET")
	router.HandleFunc("/namespaces/{id}/sysctl/{path:.+}", s.handleWriteSysctl).Methods("PUT")
}

func (s *Server) view(ns *netns.Namespace) NamespaceView {
	return NamespaceView{
		ID:      ns.ID().String(),
		Name:    ns.Name(),
		Default: ns.IsDefault(),
		Created: ns.Created(),
		MPTCP:   s.ctrl.IsEnabled(ns),
	}
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	list := s.subsys.List()
	out := make([]NamespaceView, 0, len(list))
	for _, ns := range list {
		out = append(out, s.view(ns))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	if !credentials(r).NetAdmin {
		respondWithError(w, http.StatusForbidden, "creating namespaces requires network admin")
		return
	}

	var req createNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ns, err := s.subsys.Create(req.Name)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, s.view(ns))
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.subsys.Resolve(mux.Vars(r)["id"])
	if err != nil {
		respondWithErr(w, err)
		return
	}
	v := s.view(ns)
	v.Sysctl = s.surface.List(ns.ID())
	respondWithJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if !credentials(r).NetAdmin {
		respondWithError(w, http.StatusForbidden, "destroying namespaces requires network admin")
		return
	}
	ns, err := s.subsys.Resolve(mux.Vars(r)["id"])
	if err != nil {
		respondWithErr(w, err)
		return
	}
	if err := s.subsys.Destroy(ns.ID()); err != nil {
		respondWithErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadSysctl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, err := s.subsys.Resolve(vars["id"])
	if err != nil {
		respondWithErr(w, err)
		return
	}
	path := sysctl.CleanPath(vars["path"])
	v, err := s.surface.Read(ns.ID(), path, credentials(r))
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SysctlValue{Path: path, Value: v})
}

func (s *Server) handleWriteSysctl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, err := s.subsys.Resolve(vars["id"])
	if err != nil {
		respondWithErr(w, err)
		return
	}

	var req SysctlValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithErr(w, errors.Wrap(err, errors.KindValidation, "invalid request body"))
		return
	}

	cred := credentials(r)
	path := sysctl.CleanPath(vars["path"])
	if err := s.surface.Write(ns.ID(), path, req.Value, cred); err != nil {
		s.logger.Warn("sysctl write refused", "namespace", ns, "path", path, "uid", cred.UID, "error", err)
		respondWithErr(w, err)
		return
	}
	v, err := s.surface.Read(ns.ID(), path, cred)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	s.logger.Info("sysctl written", "namespace", ns, "path", path, "value", v, "uid", cred.UID)
	respondWithJSON(w, http.StatusOK, SysctlValue{Path: path, Value: v})
}
