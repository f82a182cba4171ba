package prioclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Prioriteringsspill HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type TimeAllocation struct {
	PersonID string `json:"person_id"`
	TaskID   string `json:"task_id"`
	Pct      int    `json:"pct"`
}

type MoneyAllocation struct {
	BudgetLineID string  `json:"budget_line_id"`
	TaskID       string  `json:"task_id"`
	Amount       float64 `json:"amount"`
}

// TaskCoverage is one task's coverage as computed by the server.
type TaskCoverage struct {
	TaskID   string  `json:"task_id"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Text     string  `json:"text"`
	TimePct  int     `json:"time_pct"`
	MoneyNOK float64 `json:"money_nok"`
}

type Usage struct {
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
	Fraction float64 `json:"fraction"`
	Over     bool    `json:"over"`
}

type Derived struct {
	Tasks    []TaskCoverage `json:"tasks"`
	Covered  int            `json:"covered"`
	Total    int            `json:"total"`
	People   Usage          `json:"people"`
	Budget   Usage          `json:"budget"`
	Warnings []string       `json:"warnings"`
}

// Session is a play session with its allocations and derived state.
type Session struct {
	ID         string            `json:"id"`
	ScenarioID string            `json:"scenario_id"`
	Time       []TimeAllocation  `json:"time"`
	Money      []MoneyAllocation `json:"money"`
	Derived    Derived           `json:"derived"`
	Submitting bool              `json:"submitting"`
	UpdatedAt  string            `json:"updated_at"`
}

type TaskTotal struct {
	TaskID   string  `json:"task_id"`
	Title    string  `json:"title"`
	TimePct  int     `json:"time_pct"`
	MoneyNOK float64 `json:"money_nok"`
}

// Dashboard is the partial aggregate view.
type Dashboard struct {
	ScenarioID string `json:"scenario_id"`
	Message    string `json:"message"`
	Funds      struct {
		Text string `json:"text"`
	} `json:"funds"`
	People struct {
		Text string `json:"text"`
	} `json:"people"`
	Tasks    []TaskTotal `json:"tasks"`
	TopTime  []TaskTotal `json:"top_time"`
	TopMoney []TaskTotal `json:"top_money"`
}

type Task struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

type Person struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CapacityPct int    `json:"capacity_pct"`
}

type BudgetLine struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	AmountNOK float64 `json:"amount_nok"`
}

// Scenario is the content a session plays against.
type Scenario struct {
	Scenario struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		IsLocked bool   `json:"is_locked"`
	} `json:"scenario"`
	Tasks       []Task       `json:"tasks"`
	People      []Person     `json:"people"`
	BudgetLines []BudgetLine `json:"budget_lines"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Scenario(ctx context.Context) (Scenario, error) {
	var resp Scenario
	err := c.do(ctx, http.MethodGet, "scenario", nil, &resp)
	return resp, err
}

// CreateSession starts a session against the server's scenario.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", nil, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

// SetTime sets a person's time on a task; pct 0 removes the entry.
func (c *Client) SetTime(ctx context.Context, sessionID, personID, taskID string, pct int) (Session, error) {
	var resp Session
	body := TimeAllocation{PersonID: personID, TaskID: taskID, Pct: pct}
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "time"), body, &resp)
	return resp, err
}

// SetMoney sets a budget line's amount on a task; 0 removes the entry.
func (c *Client) SetMoney(ctx context.Context, sessionID, budgetLineID, taskID string, amount float64) (Session, error) {
	var resp Session
	body := MoneyAllocation{BudgetLineID: budgetLineID, TaskID: taskID, Amount: amount}
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "money"), body, &resp)
	return resp, err
}

func (c *Client) ClearTask(ctx context.Context, sessionID, taskID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, "tasks/"+url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Submit stores the session's allocations and returns the playthrough id.
func (c *Client) Submit(ctx context.Context, sessionID, playerName string) (string, error) {
	var resp struct {
		PlaythroughID string `json:"playthrough_id"`
	}
	body := map[string]string{"player_name": playerName}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "submit"), body, &resp)
	return resp.PlaythroughID, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

func sessionPath(id, sub string) string {
	p := "sessions/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
