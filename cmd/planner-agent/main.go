// ABOUTME: Demo planner agent — receives hand-off payloads and produces a step plan.
// ABOUTME: Usage: planner-agent [-addr localhost:8100] [-gateway http://localhost:8080] [-token ...]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

// headers the gateway stamps on every dispatched hop.
const (
	headerUser    = "X-Attach-User"
	headerSession = "X-Attach-Session"
	headerTask    = "X-Attach-Task"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func main() {
	addr := flag.String("addr", "localhost:8100", "listen address")
	gateway := flag.String("gateway", "", "gateway base URL for onward hand-off (optional)")
	token := flag.String("token", "", "bearer token for onward hand-off")
	coder := flag.String("coder", "", "coder agent URL for onward hand-off")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		handlePlan(w, r, *gateway, *token, *coder)
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "planner-agent listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// handlePlan turns the incoming prompt into a numbered plan. When a gateway
// and coder are configured, the plan is handed onward as a new task so the
// full planner→coder chain runs under one session.
func handlePlan(w http.ResponseWriter, r *http.Request, gateway, token, coder string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"detail":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	user := r.Header.Get(headerUser)
	session := r.Header.Get(headerSession)
	taskID := r.Header.Get(headerTask)
	fmt.Fprintf(os.Stderr, "plan request user=%s session=%s task=%s\n", user, session, taskID)

	prompt := extractPrompt(body)
	plan := []string{
		"1. Restate the goal: " + prompt,
		"2. Break the goal into independent steps",
		"3. Hand implementation steps to the coder",
	}

	if gateway != "" && coder != "" {
		if err := handOff(r.Context(), gateway, token, coder, plan); err != nil {
			fmt.Fprintf(os.Stderr, "onward hand-off failed: %v\n", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		Message: chatMessage{Role: "assistant", Content: strings.Join(plan, "\n")},
	})
}

// extractPrompt pulls a human-readable prompt out of a hand-off payload.
func extractPrompt(body []byte) string {
	var payload struct {
		Prompt   string        `json:"prompt"`
		Messages []chatMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return string(body)
	}
	if payload.Prompt != "" {
		return payload.Prompt
	}
	if n := len(payload.Messages); n > 0 {
		return payload.Messages[n-1].Content
	}
	return string(body)
}

// handOff creates and dispatches a follow-up task through the gateway.
func handOff(ctx context.Context, gateway, token, coder string, plan []string) error {
	send := map[string]any{
		"input":  map[string]any{"prompt": strings.Join(plan, "\n")},
		"target": coder,
	}
	data, _ := json.Marshal(send)

	created, err := postJSON(ctx, gateway+"/a2a/tasks/send", token, data)
	if err != nil {
		return err
	}

	var task struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(created, &task); err != nil || task.TaskID == "" {
		return fmt.Errorf("unexpected create response: %s", created)
	}

	_, err = postJSON(ctx, gateway+"/a2a/tasks/"+task.TaskID+"/dispatch", token, nil)
	return err
}

func postJSON(ctx context.Context, url, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, data)
	}
	return data, nil
}
