package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/retriever"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is the incoming WebSocket message format.
type wsRequest struct {
	Type           string `json:"type"` // "query" or "ask"
	ID             string `json:"id"`   // echoed back for correlation
	Question       string `json:"question"`
	TopK           int    `json:"top_k"`
	IncludeSources bool   `json:"include_sources"`
	Source         string `json:"source"`
}

// wsResponse is the outgoing WebSocket message format.
type wsResponse struct {
	Type    string         `json:"type"` // "result", "answer" or "error"
	ID      string         `json:"id,omitempty"`
	Content string         `json:"content,omitempty"`
	Result  *rag.RAGResult `json:"result,omitempty"`
}

// handleWebSocket serves queries over one connection until the client
// closes it. "query" returns the full result, "ask" only the response text.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.send(conn, wsResponse{Type: "error", Content: "invalid message format"})
			continue
		}
		if req.Question == "" {
			s.send(conn, wsResponse{Type: "error", ID: req.ID, Content: "question is required"})
			continue
		}

		search := retriever.Request{
			Query:          req.Question,
			TopK:           req.TopK,
			IncludeSources: req.IncludeSources,
			Source:         req.Source,
		}
		switch req.Type {
		case "query", "":
			res := s.pipeline.Search(r.Context(), search)
			s.send(conn, wsResponse{Type: "result", ID: req.ID, Result: &res})
		case "ask":
			search.IncludeSources = false
			res := s.pipeline.Search(r.Context(), search)
			s.send(conn, wsResponse{Type: "answer", ID: req.ID, Content: res.Response})
		default:
			s.send(conn, wsResponse{Type: "error", ID: req.ID, Content: "unknown message type: " + req.Type})
		}
	}
}

func (s *Server) send(conn *websocket.Conn, resp wsResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
	}
}
