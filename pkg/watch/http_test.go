package watch

import "net/http"

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/changes", h.HandleWS)
	return mux
}
