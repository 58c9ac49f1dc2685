package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/filter"
	"github.com/nicktill/campuspulse/pkg/httpx"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client.
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// clientMessage is sent by the browser to change the selection.
type clientMessage struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Date     string `json:"date"`
}

// viewMessage is the wire form of a filter.View.
type viewMessage struct {
	Type       string       `json:"type"`
	Chart      string       `json:"chart"`
	State      filter.State `json:"state"`
	Category   string       `json:"category,omitempty"`
	Date       string       `json:"date,omitempty"`
	Access     string       `json:"access"`
	Payload    any          `json:"payload,omitempty"`
	Error      string       `json:"error,omitempty"`
	Generation uint64       `json:"generation"`
	At         time.Time    `json:"at"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newViewMessage(v filter.View) viewMessage {
	m := viewMessage{
		Type:       "view",
		Chart:      v.Chart,
		State:      v.State,
		Category:   v.Filter.Category,
		Access:     v.Access.String(),
		Payload:    v.Payload,
		Generation: v.Generation,
		At:         v.At,
	}
	if !v.Filter.Date.IsZero() {
		m.Date = v.Filter.Date.String()
	}
	if v.Err != nil {
		m.Error = v.Err.Error()
	}
	return m
}

// parseFilter reads a selection from category and date. Missing values
// select everything.
func parseFilter(category, date string) (filter.Filter, error) {
	f := filter.Filter{Category: category}
	if date == "" {
		return f, nil
	}
	d, err := aggregate.ParseDay(date)
	if err != nil {
		return filter.Filter{}, err
	}
	f.Date = d
	return f, nil
}

func filterFromQuery(q url.Values) (filter.Filter, error) {
	return parseFilter(q.Get("category"), q.Get("date"))
}

// handleLive streams a chart over a websocket. Each connection gets its
// own subscriptions, read through the caller's access policy.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["chart"]
	chart, ok := a.charts.Get(name)
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown chart "+name)
		return
	}
	initial, err := filterFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	sess := session(r)
	initial.Viewer = sess.UID()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("chart", name).Msg("websocket upgrade failed")
		return
	}

	c := newClient(name)
	if err := a.hub.Register(r.Context(), c); err != nil {
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	mgr := stream.NewManager(docstore.Guard(a.store, a.policy, sess.Subject))
	ctrl := filter.New(chart, filter.StreamSource(mgr), initial, func(v filter.View) {
		msg, err := json.Marshal(newViewMessage(v))
		if err != nil {
			logging.Error().Err(err).Str("chart", v.Chart).Msg("failed to encode view")
			return
		}
		c.enqueue(msg)
	})

	defer func() {
		cancel()
		ctrl.Close()
		<-ctrl.Done()
		mgr.Close()
		a.hub.Unregister(c)
		conn.Close()
	}()

	go ctrl.Run(ctx)
	ctrl.ResolveAccess(sess.Access(chart.Gate()))
	go writePump(conn, c, ctx.Done())

	conn.SetReadLimit(config.WSMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "filter" {
			reply(c, "expected a filter message")
			continue
		}
		f, err := parseFilter(msg.Category, msg.Date)
		if err != nil {
			reply(c, err.Error())
			continue
		}
		f.Viewer = sess.UID()
		ctrl.SetFilter(f)
	}
}

func reply(c *client, text string) {
	msg, _ := json.Marshal(errorMessage{Type: "error", Error: text})
	c.enqueue(msg)
}

// writePump owns all data writes to conn.
func writePump(conn *websocket.Conn, c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(config.WSWriteDeadline))
			return
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logging.Debug().Err(err).Str("client", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// session returns the caller's session. Requests that bypassed the
// authenticator are anonymous.
func session(r *http.Request) *authz.Session {
	if s := authz.SessionFrom(r.Context()); s != nil {
		return s
	}
	return authz.Anonymous()
}
