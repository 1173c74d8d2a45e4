// ABOUTME: Demo coder agent — receives planned steps and answers with a code sketch.
// ABOUTME: Usage: coder-agent [-addr localhost:8101]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"
)

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
	addr := flag.String("addr", "localhost:8101", "listen address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", handleCode)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "coder-agent listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func handleCode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"detail":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	fmt.Fprintf(os.Stderr, "code request user=%s session=%s task=%s\n",
		r.Header.Get(headerUser), r.Header.Get(headerSession), r.Header.Get(headerTask))

	var payload struct {
		Prompt string `json:"prompt"`
	}
	prompt := string(body)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Prompt != "" {
		prompt = payload.Prompt
	}

	content := "// implementation sketch for:\n// " + prompt + "\nfunc solve() error {\n\t// TODO: fill in per plan\n\treturn nil\n}\n"

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		Message: chatMessage{Role: "assistant", Content: content},
	})
}
