package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// testServer is a running hub behind an httptest server
type testServer struct {
	srv   *httptest.Server
	hub   *Hub
	wsURL string
}

// startTestServer serves a hub without a database and a stub client
// directory. Idle tables are dropped quickly so cleanup is observable.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	prevIdle := SessionIdleTimeout
	SessionIdleTimeout = 150 * time.Millisecond

	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "js"), 0o755)
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>pong</html>"), 0o644)
	os.WriteFile(filepath.Join(dir, "js", "table.js"), []byte("// table"), 0o644)

	hub := NewHub(nil, DefaultConfig())
	go hub.Run()
	srv := httptest.NewServer(SetupRoutes(hub, dir))

	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		SessionIdleTimeout = prevIdle
	})
	return &testServer{
		srv:   srv,
		hub:   hub,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", ts.wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) sessions(t *testing.T) []SessionInfo {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list []SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	return list
}

// readEnvelope reads one message. Binary frames are decoded into a
// GameState and returned as a state envelope.
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind == websocket.BinaryMessage {
		var gs GameState
		if err := msgpack.Unmarshal(raw, &gs); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return Envelope{T: MsgState, Data: gs}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(env.Data)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	return m
}

// readUntil reads messages until one matches, failing after max reads
func readUntil(t *testing.T, conn *websocket.Conn, max int, match func(Envelope) bool) Envelope {
	t.Helper()
	for i := 0; i < max; i++ {
		if env := readEnvelope(t, conn); match(env) {
			return env
		}
	}
	t.Fatalf("no matching message in %d reads", max)
	return Envelope{}
}

func isType(typ string) func(Envelope) bool {
	return func(env Envelope) bool { return env.T == typ }
}

func isState(env Envelope) bool { return env.T == MsgState }

// createTable creates a table in the given mode and returns its id
func createTable(t *testing.T, conn *websocket.Conn, name, mode string) string {
	t.Helper()
	sendMsg(t, conn, MsgCreate, map[string]string{"sname": name, "mode": mode})
	env := readUntil(t, conn, 10, func(env Envelope) bool {
		return env.T == MsgCreated || env.T == MsgError
	})
	if env.T != MsgCreated {
		t.Fatalf("create %q: got %s %v", name, env.T, env.Data)
	}
	return dataMap(t, env)["sid"].(string)
}

// joinTable joins sid and returns the welcome payload
func joinTable(t *testing.T, conn *websocket.Conn, sid, player string) map[string]interface{} {
	t.Helper()
	sendMsg(t, conn, MsgJoin, JoinMsg{Name: player, SessionID: sid})
	joined := readUntil(t, conn, 10, isType(MsgJoined))
	if got := dataMap(t, joined)["sid"]; got != sid {
		t.Fatalf("joined %v, want %s", got, sid)
	}
	return dataMap(t, readUntil(t, conn, 10, isType(MsgWelcome)))
}

// createAndJoinMode creates a table and takes its first seat
func createAndJoinMode(t *testing.T, conn *websocket.Conn, player, table, mode string) (string, map[string]interface{}) {
	t.Helper()
	sid := createTable(t, conn, table, mode)
	return sid, joinTable(t, conn, sid, player)
}

func createAndJoin(t *testing.T, conn *websocket.Conn, player, table string) string {
	t.Helper()
	sid, _ := createAndJoinMode(t, conn, player, table, "")
	return sid
}

func check(t *testing.T, conn *websocket.Conn, sid string) map[string]interface{} {
	t.Helper()
	sendMsg(t, conn, MsgCheck, CheckMsg{SID: sid})
	return dataMap(t, readUntil(t, conn, 10, isType(MsgChecked)))
}

func welcomePaddles(w map[string]interface{}) []int {
	raw, _ := w["paddles"].([]interface{})
	out := make([]int, len(raw))
	for i, p := range raw {
		out[i] = int(p.(float64))
	}
	return out
}

// ---------- joining ----------

func TestFirstJoinerDrivesFirstPaddle(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	_, welcome := createAndJoinMode(t, c, "Ana", "Solo", "ai")
	if welcome["mode"] != "ai" {
		t.Errorf("mode = %v, want ai", welcome["mode"])
	}
	if welcome["spectator"] == true {
		t.Error("first joiner should not spectate")
	}
	if got := welcomePaddles(welcome); len(got) != 1 || got[0] != int(First) {
		t.Errorf("paddles = %v, want [0]", got)
	}
	if welcome["id"] == "" {
		t.Error("welcome should carry the seat id")
	}
}

func TestSecondJoinerSpectates(t *testing.T) {
	ts := startTestServer(t)
	host := ts.dial(t)
	sid := createAndJoin(t, host, "Host", "Shared")

	guest := ts.dial(t)
	welcome := joinTable(t, guest, sid, "Guest")
	if welcome["spectator"] != true {
		t.Errorf("second joiner should spectate, got %v", welcome)
	}
	if got := welcomePaddles(welcome); len(got) != 0 {
		t.Errorf("spectator paddles = %v, want none", got)
	}

	// A spectator can neither start the match nor move a paddle
	sendMsg(t, guest, MsgCommand, CommandMsg{Cmd: CmdStart})
	sendMsg(t, guest, MsgInput, ClientInput{Dir: 1})
	if d := check(t, guest, sid); d["phase"] != "main_menu" || d["players"].(float64) != 2 {
		t.Errorf("check after spectator commands = %v", d)
	}
}

func TestRejoinKeepsOneSeat(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	sid, first := createAndJoinMode(t, c, "Ana", "Again", "ai")

	again := joinTable(t, c, sid, "Ana")
	if again["spectator"] == true {
		t.Fatal("rejoining player should get the paddle back")
	}
	if got := welcomePaddles(again); len(got) != 1 || got[0] != int(First) {
		t.Errorf("paddles after rejoin = %v, want [0]", got)
	}
	if again["id"] == first["id"] {
		t.Error("rejoin should issue a fresh seat")
	}
	if d := check(t, c, sid); d["players"].(float64) != 1 {
		t.Errorf("players after rejoin = %v, want 1", d["players"])
	}
}

func TestJoinOtherTableReleasesSeat(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	oldSID := createAndJoin(t, c, "Ana", "Old")
	newSID := createTable(t, c, "New", "ai")

	welcome := joinTable(t, c, newSID, "Ana")
	if got := welcomePaddles(welcome); len(got) != 1 {
		t.Errorf("paddles at new table = %v", got)
	}

	// The old table emptied out and goes idle
	time.Sleep(SessionIdleTimeout + 50*time.Millisecond)
	if d := check(t, c, oldSID); d["exists"] != false {
		t.Errorf("old table should be removed once empty, got %v", d)
	}
}

func TestJoinUnknownTable(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgJoin, JoinMsg{Name: "Lost", SessionID: GenerateUUID()})
	env := readEnvelope(t, c)
	if env.T != MsgError || dataMap(t, env)["msg"] != "session not found" {
		t.Fatalf("got %s %v, want session not found", env.T, env.Data)
	}
}

func TestGuestNameWhenUnnamed(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	sid, welcome := createAndJoinMode(t, c, "", "", "ai")

	sess := ts.hub.sessions.GetSession(sid)
	if sess == nil {
		t.Fatal("table missing")
	}
	if sess.Name != "Table" {
		t.Errorf("table name = %q, want Table", sess.Name)
	}
	seat, ok := sess.Game.Seat(welcome["id"].(string))
	if !ok || !strings.HasPrefix(seat.Name, "Guest_") {
		t.Errorf("seat = %+v, want a Guest_ name", seat)
	}
}

func TestLeaveReleasesPaddle(t *testing.T) {
	ts := startTestServer(t)
	host := ts.dial(t)
	sid := createAndJoin(t, host, "Host", "Handover")

	guest := ts.dial(t)
	if w := joinTable(t, guest, sid, "Guest"); w["spectator"] != true {
		t.Fatalf("guest should start as spectator, got %v", w)
	}

	sendMsg(t, host, MsgLeave, nil)
	if d := check(t, host, sid); d["players"].(float64) != 1 {
		t.Fatalf("players after leave = %v", d["players"])
	}

	// The paddle is free again for the next joiner
	late := ts.dial(t)
	if got := welcomePaddles(joinTable(t, late, sid, "Late")); len(got) != 1 {
		t.Errorf("late joiner paddles = %v, want one", got)
	}
}

func TestDisconnectRemovesEmptyTable(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Temp", "Brief")
	if n := len(ts.sessions(t)); n != 1 {
		t.Fatalf("tables = %d, want 1", n)
	}

	c.Close()
	time.Sleep(SessionIdleTimeout + 100*time.Millisecond)

	if list := ts.sessions(t); len(list) != 0 {
		t.Errorf("tables after disconnect = %+v, want none", list)
	}
}

func TestMessagesBeforeJoinIgnored(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgInput, ClientInput{Dir: 1})
	sendMsg(t, c, MsgCommand, CommandMsg{Cmd: CmdStart})
	sendMsg(t, c, MsgLeave, nil)
	c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0, 1})

	sendMsg(t, c, MsgList, nil)
	if env := readEnvelope(t, c); env.T != MsgSessions {
		t.Fatalf("got %s, want sessions", env.T)
	}
}

// ---------- table discovery ----------

func TestCheckReportsTable(t *testing.T) {
	ts := startTestServer(t)
	host := ts.dial(t)
	sid := createAndJoin(t, host, "Host", "Centre Court")

	other := ts.dial(t)
	d := check(t, other, sid)
	if d["exists"] != true || d["name"] != "Centre Court" || d["mode"] != "ai" {
		t.Errorf("check = %v", d)
	}
	if d["phase"] != "main_menu" || d["players"].(float64) != 1 {
		t.Errorf("check before start = %v", d)
	}

	sendMsg(t, host, MsgCommand, CommandMsg{Cmd: CmdStart})
	readUntil(t, host, 30, isType(MsgEvent))
	if d := check(t, other, sid); d["phase"] != "playing" {
		t.Errorf("phase after start = %v, want playing", d["phase"])
	}

	missing := GenerateUUID()
	if d := check(t, other, missing); d["exists"] != false || d["sid"] != missing {
		t.Errorf("check of unknown table = %v", d)
	}
}

func TestListReportsModeAndPhase(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgList, nil)
	env := readEnvelope(t, c)
	if env.T != MsgSessions {
		t.Fatalf("got %s, want sessions", env.T)
	}
	if raw, _ := json.Marshal(env.Data); string(raw) != "[]" {
		t.Errorf("empty list encodes as %s, want []", raw)
	}

	createAndJoin(t, c, "Ana", "Human")
	createTable(t, c, "Show", "demo")

	byName := map[string]SessionInfo{}
	for _, s := range ts.sessions(t) {
		byName[s.Name] = s
	}
	if s := byName["Human"]; s.Mode != "ai" || s.Phase != "main_menu" || s.Players != 1 {
		t.Errorf("human table = %+v", s)
	}
	if s := byName["Show"]; s.Mode != "demo" || s.Phase != "playing" || s.Players != 0 {
		t.Errorf("demo table = %+v", s)
	}
}

func TestCreateWithBadDifficulty(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgCreate, map[string]string{"sname": "Bad", "difficulty": "impossible"})
	if env := readEnvelope(t, c); env.T != MsgError {
		t.Fatalf("got %s, want error", env.T)
	}
	if n := len(ts.sessions(t)); n != 0 {
		t.Errorf("tables = %d, want none", n)
	}
}

func TestCreateWithScoreToWin(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgCreate, CreateMsg{SessionName: "Short", ScoreToWin: 3, Difficulty: "hard"})
	sid := dataMap(t, readUntil(t, c, 5, isType(MsgCreated)))["sid"].(string)

	cfg := ts.hub.sessions.GetSession(sid).Game.sim.Config()
	if cfg.ScoreToWin != 3 {
		t.Errorf("score to win = %d, want 3", cfg.ScoreToWin)
	}
	if cfg.AI.Difficulty != DifficultyHard {
		t.Errorf("difficulty = %q, want hard", cfg.AI.Difficulty)
	}
}

// ---------- play ----------

func TestGameStateBroadcasts(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Ana", "Frames")

	gs := readUntil(t, c, 5, isState).Data.(GameState)
	if gs.Tick == 0 {
		t.Error("state should carry a tick")
	}
	if gs.Phase != "main_menu" {
		t.Errorf("phase = %s, want main_menu", gs.Phase)
	}
	if gs.Paddles[First].X >= gs.Paddles[Second].X {
		t.Error("first paddle should be on the left")
	}
}

func TestStartCommandBroadcastsPhase(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Ana", "Kickoff")

	sendMsg(t, c, MsgCommand, CommandMsg{Cmd: CmdStart})
	d := dataMap(t, readUntil(t, c, 20, isType(MsgEvent)))
	if d["type"] != "phase" || d["phase"] != "playing" {
		t.Errorf("first event = %v, want phase playing", d)
	}
	if list := ts.sessions(t); len(list) != 1 || list[0].Phase != "playing" {
		t.Errorf("sessions = %+v", list)
	}
}

func TestInputMovesPaddle(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Ana", "Up")

	sendMsg(t, c, MsgCommand, CommandMsg{Cmd: CmdStart})
	sendMsg(t, c, MsgInput, ClientInput{Dir: 1})
	readUntil(t, c, 60, func(env Envelope) bool {
		return isState(env) && env.Data.(GameState).Paddles[First].Y > 0
	})
}

func TestBinaryInputMovesPaddle(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Ana", "Down")

	sendMsg(t, c, MsgCommand, CommandMsg{Cmd: CmdStart})
	// [0x01, paddle, int8 dir]
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0, 0xFF}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, c, 60, func(env Envelope) bool {
		return isState(env) && env.Data.(GameState).Paddles[First].Y < 0
	})
}

func TestDemoJoinerSpectates(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	_, welcome := createAndJoinMode(t, c, "Viewer", "Demo", "demo")
	if welcome["spectator"] != true || welcome["mode"] != "demo" {
		t.Errorf("welcome = %v, want demo spectator", welcome)
	}
	readUntil(t, c, 30, func(env Envelope) bool {
		return isState(env) && env.Data.(GameState).Phase == "playing"
	})
}

func TestLocalJoinerHoldsBothPaddles(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	_, welcome := createAndJoinMode(t, c, "Both", "Local", "local")
	if got := welcomePaddles(welcome); len(got) != 2 {
		t.Fatalf("paddles = %v, want both", got)
	}

	sendMsg(t, c, MsgCommand, CommandMsg{Cmd: CmdStart})
	sendMsg(t, c, MsgInput, ClientInput{Paddle: int(Second), Dir: -1})
	readUntil(t, c, 60, func(env Envelope) bool {
		return isState(env) && env.Data.(GameState).Paddles[Second].Y < 0
	})
}

func TestPhoneControllerDrivesSeat(t *testing.T) {
	ts := startTestServer(t)
	desk := ts.dial(t)
	sid, welcome := createAndJoinMode(t, desk, "Desk", "Remote", "ai")
	pid := welcome["id"].(string)

	phone := ts.dial(t)
	sendMsg(t, phone, MsgControl, ControlMsg{SID: sid, PlayerID: pid})
	if env := readUntil(t, phone, 5, isType(MsgControlOK)); dataMap(t, env)["pid"] != pid {
		t.Errorf("control_ok = %v", env.Data)
	}
	readUntil(t, desk, 20, isType(MsgCtrlOn))

	sendMsg(t, desk, MsgCommand, CommandMsg{Cmd: CmdStart})
	sendMsg(t, phone, MsgInput, ClientInput{Dir: 1})
	readUntil(t, desk, 60, func(env Envelope) bool {
		return isState(env) && env.Data.(GameState).Paddles[First].Y > 0
	})

	phone.Close()
	readUntil(t, desk, 60, isType(MsgCtrlOff))
	if d := check(t, desk, sid); d["players"].(float64) != 1 {
		t.Errorf("controller leaving should keep the seat, got %v", d)
	}
}

// ---------- HTTP ----------

func TestStaticRoutes(t *testing.T) {
	ts := startTestServer(t)
	tests := []struct {
		path string
		code int
	}{
		{"/", 200},
		{"/" + GenerateUUID(), 200},
		{"/js/table.js", 200},
		{"/not-a-table", 404},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.code)
		}
		if cc := resp.Header.Get("Cache-Control"); tt.code == 200 && cc != "no-cache" {
			t.Errorf("GET %s Cache-Control = %q", tt.path, cc)
		}
	}
}

func TestQRCodeRoute(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	sid, welcome := createAndJoinMode(t, c, "Phone", "QR", "")
	pid := welcome["id"].(string)

	resp, err := http.Get(ts.srv.URL + "/qr/" + sid + "/" + pid)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("GET /qr = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(ts.srv.URL + "/qr/" + sid + "/nobody")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown seat QR = %d, want 404", resp.StatusCode)
	}
}

func TestLeaderboardWithoutDB(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	createAndJoin(t, c, "Ana", "Counted")

	resp, err := http.Get(ts.srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["conns"].(float64) < 1 {
		t.Errorf("conns = %v, want at least 1", out["conns"])
	}
	if _, ok := out["peers"]; !ok {
		t.Errorf("stats = %v, want peers", out)
	}
}

func TestAccountsDisabledWithoutDB(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	sendMsg(t, c, MsgRegister, RegisterMsg{Username: "nobody", Password: "secret"})
	env := readEnvelope(t, c)
	if env.T != MsgError || dataMap(t, env)["msg"] != "accounts disabled" {
		t.Fatalf("got %s %v, want accounts disabled", env.T, env.Data)
	}
}
