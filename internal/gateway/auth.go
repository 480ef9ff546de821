package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetworks/fleetd/internal/store"
)

// AuthContext is the resolved identity of a request, carried on the
// request context after the bearer middleware runs.
type AuthContext struct {
	UID       string
	Handle    string
	TeamName  string
	AgentType string
}

type authCtxKey struct{}

func authFrom(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authCtxKey{}).(*AuthContext)
	return ac, ok
}

// Permissions gate per-route operations by agent type. The matrix is a
// compile-time table; there is no dynamic policy.
const (
	PermChat        = "chat"
	PermBroadcast   = "broadcast"
	PermTasks       = "tasks"
	PermOrchestrate = "orchestrate"
	PermBlackboard  = "blackboard"
	PermCredits     = "credits"
	PermScheduler   = "scheduler"
	PermWorkItems   = "workitems"
	PermAdmin       = "admin"
)

var permMatrix = map[string]map[string]bool{
	store.AgentTypeTeamLead: {
		PermChat: true, PermBroadcast: true, PermTasks: true,
		PermOrchestrate: true, PermBlackboard: true, PermCredits: true,
		PermScheduler: true, PermWorkItems: true, PermAdmin: true,
	},
	store.AgentTypeCoordinator: {
		PermChat: true, PermBroadcast: true, PermTasks: true,
		PermOrchestrate: true, PermBlackboard: true, PermCredits: true,
		PermScheduler: true, PermWorkItems: true,
	},
	store.AgentTypeWorker: {
		PermChat: true, PermTasks: true, PermBlackboard: true,
		PermCredits: true, PermWorkItems: true,
	},
	store.AgentTypeMerger: {
		PermChat: true, PermTasks: true, PermBlackboard: true,
		PermWorkItems: true,
	},
	store.AgentTypeMonitor: {
		PermChat: true, PermBlackboard: true,
	},
	store.AgentTypeNotifier: {
		PermChat: true, PermBroadcast: true,
	},
}

// Allowed reports whether the given agent type holds the permission.
func Allowed(agentType, perm string) bool {
	return permMatrix[agentType][perm]
}

type claims struct {
	UID       string `json:"uid"`
	Handle    string `json:"handle"`
	TeamName  string `json:"teamName"`
	AgentType string `json:"agentType"`
	jwt.RegisteredClaims
}

const tokenTTL = 24 * time.Hour

// issueToken mints an HS256 bearer token carrying the caller's identity.
func (s *Server) issueToken(ac *AuthContext) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UID:       ac.UID,
		Handle:    ac.Handle,
		TeamName:  ac.TeamName,
		AgentType: ac.AgentType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fleetd",
			Subject:   ac.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *Server) parseToken(raw string) (*AuthContext, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return &AuthContext{
		UID:       c.UID,
		Handle:    c.Handle,
		TeamName:  c.TeamName,
		AgentType: c.AgentType,
	}, nil
}

// requireAuth wraps a handler with bearer-token resolution. perm, when
// non-empty, must be held by the token's agent type.
func (s *Server) requireAuth(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		ac, err := s.parseToken(raw)
		if err != nil {
			s.log.Warn("auth.token_rejected", "error", err)
			s.respondError(w, http.StatusUnauthorized, "invalid token", "")
			return
		}
		if perm != "" && !Allowed(ac.AgentType, perm) {
			s.respondError(w, http.StatusForbidden,
				fmt.Sprintf("agent type %q may not perform this operation", ac.AgentType), "")
			return
		}
		if !s.limiter.Allow(ac.UID, r.Method) {
			s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), authCtxKey{}, ac)))
	}
}

// requireTeam additionally enforces that the token's team matches the
// {team} path segment. Cross-team access is a 403 with no detail.
func (s *Server) requireTeam(perm string, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(perm, func(w http.ResponseWriter, r *http.Request) {
		ac, _ := authFrom(r.Context())
		if team := r.PathValue("team"); team != "" && team != ac.TeamName {
			s.respondError(w, http.StatusForbidden, "team mismatch", "")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// WS clients can't set headers from browsers; accept ?token=.
	return r.URL.Query().Get("token")
}
