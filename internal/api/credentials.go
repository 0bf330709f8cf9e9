// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"

	"grimm.is/pernet/internal/sysctl"
)

type ctxKey int

const (
	peerKey ctxKey = iota
	credKey
)

// peer is the kernel-reported identity of a unix socket client.
type peer struct {
	uid uint32
}

// connContext records the peer credentials of unix socket connections.
func connContext(ctx context.Context, c net.Conn) context.Context {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return ctx
	}
	uid, ok := peerUID(uc)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, peerKey, peer{uid: uid})
}

// credentialsMiddleware resolves the caller's credentials once per request.
// A valid bearer admin token or a root unix socket peer is a network admin;
// anyone else is unprivileged.
func (s *Server) credentialsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := sysctl.Unprivileged
		if p, ok := r.Context().Value(peerKey).(peer); ok {
			cred = sysctl.Credentials{UID: p.uid, NetAdmin: p.uid == 0}
		}
		if tok := bearerToken(r); tok != "" {
			if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(tok), []byte(s.adminToken)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			cred = sysctl.Root
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), credKey, cred)))
	})
}

// credentials returns the caller's credentials, unprivileged if unknown.
func credentials(r *http.Request) sysctl.Credentials {
	if c, ok := r.Context().Value(credKey).(sysctl.Credentials); ok {
		return c
	}
	return sysctl.Unprivileged
}
