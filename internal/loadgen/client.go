package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/handoff/relay/internal/protocol"
)

// Config controls a single simulated flow.
type Config struct {
	BaseURL   string // http(s) root of the relay server
	TargetURL string
	Cookies   []string
	Timeout   time.Duration // per-flow deadline
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:10000",
		TargetURL: "https://example.org/checkout",
		Cookies:   []string{"session=loadgen; theme=dark"},
		Timeout:   15 * time.Second,
	}
}

// Client runs create, watch, redirect and complete against one server.
type Client struct {
	config Config
	http   *http.Client
	wsBase string
}

// NewClient creates a Client. Redirects are never followed so the 302 from
// the relay endpoint can be measured directly.
func NewClient(config Config) *Client {
	base := strings.TrimRight(config.BaseURL, "/")
	config.BaseURL = base
	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		wsBase: "ws" + strings.TrimPrefix(base, "http"),
	}
}

// RunFlow drives one session through its whole lifecycle and records step
// latencies into c. The first failing step is recorded and returned.
func (cl *Client) RunFlow(ctx context.Context, c *Collector) error {
	ctx, cancel := context.WithTimeout(ctx, cl.config.Timeout)
	defer cancel()

	start := time.Now()
	id, err := cl.create(ctx)
	if err != nil {
		c.AddError(StepCreate)
		return fmt.Errorf("create: %w", err)
	}
	c.Observe(StepCreate, time.Since(start))

	start = time.Now()
	w, err := cl.watch(ctx, id)
	if err != nil {
		c.AddError(StepWatch)
		return fmt.Errorf("watch: %w", err)
	}
	defer w.conn.Close()
	if _, err := w.waitFor(protocol.TypeStatus, "pending"); err != nil {
		c.AddError(StepWatch)
		return fmt.Errorf("watch: %w", err)
	}
	c.Observe(StepWatch, time.Since(start))

	start = time.Now()
	if err := cl.redirect(ctx, id); err != nil {
		c.AddError(StepRedirect)
		return fmt.Errorf("redirect: %w", err)
	}
	c.Observe(StepRedirect, time.Since(start))
	if _, err := w.waitFor(protocol.TypeStatus, "redirected"); err != nil {
		c.AddError(StepNotify)
		return fmt.Errorf("notify redirected: %w", err)
	}

	start = time.Now()
	if err := cl.complete(ctx, id); err != nil {
		c.AddError(StepComplete)
		return fmt.Errorf("complete: %w", err)
	}
	c.Observe(StepComplete, time.Since(start))
	if _, err := w.waitFor(protocol.TypeStatus, "completed"); err != nil {
		c.AddError(StepNotify)
		return fmt.Errorf("notify completed: %w", err)
	}
	c.Observe(StepNotify, time.Since(start))

	c.FlowDone()
	return nil
}

func (cl *Client) create(ctx context.Context) (string, error) {
	body, err := json.Marshal(protocol.CreateSessionRequest{
		TargetURL: cl.config.TargetURL,
		Cookies:   cl.config.Cookies,
	})
	if err != nil {
		return "", err
	}

	var resp protocol.CreateSessionResponse
	if err := cl.doJSON(ctx, http.MethodPost, "/api/sessions", body, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", errors.New("empty session id")
	}
	return resp.SessionID, nil
}

func (cl *Client) redirect(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.config.BaseURL+"/r/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := cl.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (cl *Client) complete(ctx context.Context, id string) error {
	var resp protocol.CompleteResponse
	return cl.doJSON(ctx, http.MethodPost, "/api/sessions/"+id+"/complete", nil, http.StatusOK, &resp)
}

func (cl *Client) doJSON(ctx context.Context, method, path string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, cl.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, e.Code)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type watcher struct {
	conn net.Conn
	rw   io.ReadWriter
}

func (cl *Client) watch(ctx context.Context, id string) (*watcher, error) {
	conn, br, _, err := ws.Dial(ctx, cl.wsBase+"/ws/sessions/"+id)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return &watcher{conn: conn, rw: rw}, nil
}

// waitFor reads server frames until a status message with the given status
// arrives. An error message from the server ends the wait.
func (w *watcher) waitFor(typ, status string) (protocol.StatusMsg, error) {
	for {
		data, err := wsutil.ReadServerText(w.rw)
		if err != nil {
			return protocol.StatusMsg{}, err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return protocol.StatusMsg{}, err
		}
		switch env.Type {
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(data, &e)
			return protocol.StatusMsg{}, fmt.Errorf("server error: %s", e.Code)
		case typ:
			var msg protocol.StatusMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				return protocol.StatusMsg{}, err
			}
			if msg.Status == status {
				return msg, nil
			}
		}
	}
}
