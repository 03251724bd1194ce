package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultServerURL               = "http://127.0.0.1:8765"
	maxPushErrorBodyBytes    int64 = 64 << 10
	maxPushResponseBodyBytes int64 = 1 << 20
)

var pushStdin io.Reader = os.Stdin
var pushStdout io.Writer = os.Stdout
var pushHTTPClient = &http.Client{Timeout: 30 * time.Second}

type pushTarget struct {
	method      string
	path        string
	needsWidget bool
}

var pushTargets = map[string]pushTarget{
	"create":      {method: http.MethodPost, path: "/api/widgets"},
	"spec":        {method: http.MethodPut, path: "/api/widgets/%s/spec", needsWidget: true},
	"opt":         {method: http.MethodPut, path: "/api/widgets/%s/opt", needsWidget: true},
	"update":      {method: http.MethodPost, path: "/api/widgets/%s/updates", needsWidget: true},
	"dataframe":   {method: http.MethodPost, path: "/api/widgets/%s/dataframe", needsWidget: true},
	"histogram2d": {method: http.MethodPost, path: "/api/widgets/%s/histogram2d", needsWidget: true},
}

func runPushCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vegabridge push create|spec|opt|update|dataframe|histogram2d [flags]")
	}
	kind := args[0]
	target, ok := pushTargets[kind]
	if !ok {
		return fmt.Errorf("unknown push target %q", kind)
	}

	fs := flag.NewFlagSet("push "+kind, flag.ContinueOnError)
	serverURL := fs.String("server", envOrDefault("VEGABRIDGE_SERVER", defaultServerURL), "widget server base URL")
	widgetID := fs.String("widget", "", "target widget id")
	file := fs.String("file", "-", "JSON body to send (- reads stdin)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	id := strings.TrimSpace(*widgetID)
	if target.needsWidget && id == "" {
		return fmt.Errorf("push %s requires --widget", kind)
	}
	body, err := readPushBody(*file)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return fmt.Errorf("push %s: body is not valid JSON", kind)
	}

	path := target.path
	if target.needsWidget {
		path = fmt.Sprintf(path, url.PathEscape(id))
	}
	client := &pushClient{baseURL: strings.TrimRight(*serverURL, "/"), httpClient: pushHTTPClient}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := client.do(ctx, target.method, path, body)
	if err != nil {
		return err
	}
	if len(resp) > 0 {
		fmt.Fprintln(pushStdout, strings.TrimSpace(string(resp)))
	}
	return nil
}

func readPushBody(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(pushStdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

type pushClient struct {
	baseURL    string
	httpClient *http.Client
}

func (c *pushClient) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *pushClient) do(ctx context.Context, method, p string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, p, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data := readBodyLimited(resp.Body, maxPushErrorBodyBytes)
		if msg := formatAPIErrorBody(data); msg != "" {
			return nil, fmt.Errorf("%s %s failed (%s): %s", method, p, resp.Status, msg)
		}
		return nil, fmt.Errorf("%s %s failed (%s)", method, p, resp.Status)
	}
	return readBodyLimited(resp.Body, maxPushResponseBodyBytes), nil
}

type apiErrorEnvelope struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Timestamp string `json:"timestamp"`
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}

func formatAPIErrorBody(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload apiErrorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
		if msg != "" {
			out := msg
			if code := strings.TrimSpace(payload.Code); code != "" {
				out = fmt.Sprintf("%s (%s)", out, code)
			}
			if payload.Retryable {
				out += " (retryable)"
			}
			return out
		}
	}
	return strings.TrimSpace(string(data))
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
