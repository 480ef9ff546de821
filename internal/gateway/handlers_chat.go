package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

func (s *Server) handleUserChats(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if err := checkUID("uid", uid); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	chats, err := s.stores.Chats.GetChatsByUser(r.Context(), uid)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, chats)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID1 string `json:"uid1"`
		UID2 string `json:"uid2"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	for _, p := range []struct{ field, v string }{{"uid1", req.UID1}, {"uid2", req.UID2}} {
		if err := checkUID(p.field, p.v); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}
	if req.UID1 == req.UID2 {
		s.respondError(w, http.StatusBadRequest, "a chat needs two distinct participants", "")
		return
	}
	chat, err := s.stores.Chats.InsertChat(r.Context(), store.NewShortID("chat"), []string{req.UID1, req.UID2})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"chatId": chat.ID})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := checkShortID("chatId", chatID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	limit := queryInt(r, "limit", 50)
	after := int64(queryInt(r, "after", 0))
	msgs, err := s.stores.Chats.GetMessages(r.Context(), chatID, limit, after)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := checkShortID("chatId", chatID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		From     string          `json:"from"`
		Text     string          `json:"text"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkUID("from", req.From); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("text", req.Text, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ac, _ := authFrom(r.Context())
	if req.From != ac.UID {
		s.respondError(w, http.StatusForbidden, "from must be the caller", "")
		return
	}

	msg, err := s.stores.Chats.AppendMessage(r.Context(), &store.ChatMessage{
		ChatID:   chatID,
		FromUID:  req.From,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.bus.PublishJSON(protocol.TopicChatPrefix+chatID, protocol.EventNewMessage, msg)
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkChatRead(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := checkShortID("chatId", chatID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		UID string `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkUID("uid", req.UID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.stores.Chats.MarkChatRead(r.Context(), chatID, req.UID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

// handleBroadcast pushes a message to every socket subscribed to the
// team topic. Broadcasts are fan-out only; nothing is persisted.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	var req struct {
		From     string          `json:"from"`
		Text     string          `json:"text"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("from", req.From); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("text", req.Text, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.bus.PublishJSON(protocol.TopicTeamPrefix+team, protocol.EventBroadcast, map[string]any{
		"from":     req.From,
		"text":     req.Text,
		"metadata": req.Metadata,
		"ts":       store.NowMillis(),
	})
	if s.metrics != nil {
		s.metrics.BroadcastFanout.Inc()
	}
	s.respondOK(w)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
