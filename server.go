package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

var uuidPathRe = regexp.MustCompile(`^/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// controllerURL is the page a phone opens to drive a seated player's paddle
func controllerURL(r *http.Request, sid, pid string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     "/controller.html",
		RawQuery: url.Values{"sid": {sid}, "pid": {pid}}.Encode(),
	}
	return u.String()
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	// Serve static files with no-cache so browsers always revalidate
	fs := http.FileServer(http.Dir(clientDir))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		// SPA: serve index.html for root and UUID paths
		if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
			http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	}))

	// QR code linking a phone controller to a seat
	mux.HandleFunc("GET /qr/{sid}/{pid}", func(w http.ResponseWriter, r *http.Request) {
		sid, pid := r.PathValue("sid"), r.PathValue("pid")
		sess := hub.sessions.GetSession(sid)
		if sess == nil || !sess.Game.HasPlayer(pid) {
			http.NotFound(w, r)
			return
		}
		png, err := qrcode.Encode(controllerURL(r, sid, pid), qrcode.Medium, qrSize)
		if err != nil {
			log.Printf("qr encode: %v", err)
			http.Error(w, "qr encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.sessions.ListSessions())
	})

	mux.HandleFunc("GET /api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorMsg{Msg: "leaderboard unavailable"})
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > maxLeaderboardLen {
			limit = 10
		}
		entries, err := hub.db.GetLeaderboard(r.URL.Query().Get("sort"), limit)
		if err != nil {
			log.Printf("leaderboard: %v", err)
			writeJSON(w, http.StatusInternalServerError, ErrorMsg{Msg: "leaderboard unavailable"})
			return
		}
		if entries == nil {
			entries = []LeaderboardEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		peers, sessions := hub.analytics.GetLiveMetrics()
		out := map[string]interface{}{
			"peers":    peers,
			"sessions": sessions,
			"conns":    hub.TotalConns(),
		}
		if dau, err := hub.analytics.DAUCount(); err == nil {
			out["dau"] = dau
		}
		if wau, err := hub.analytics.WAUCount(); err == nil {
			out["wau"] = wau
		}
		if mau, err := hub.analytics.MAUCount(); err == nil {
			out["mau"] = mau
		}
		if matches, err := hub.analytics.MatchStats(7); err == nil && matches != nil {
			out["matches"] = matches
		}
		if rallies, err := hub.analytics.LongestRallies(7, 5); err == nil && rallies != nil {
			out["rallies"] = rallies
		}
		if counts, err := hub.analytics.EventCounts(7); err == nil && counts != nil {
			out["events"] = counts
		}
		if daily, err := hub.analytics.DailyActiveHistory(30); err == nil && daily != nil {
			out["daily"] = daily
		}
		writeJSON(w, http.StatusOK, out)
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
