package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/pkg/models"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key-123"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want default Sonnet 4", client.Model())
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error when no API key is available")
	}
}

func TestNewClient_EnvAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-test-key")
	if _, err := NewClient(ClientConfig{Model: "claude-haiku-test"}); err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("translateModelForBedrock() = %q", got)
	}
	if got := translateModelForBedrock("custom-model"); got != "custom-model" {
		t.Errorf("unknown models should pass through, got %q", got)
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(1_000_000, 0)
	tr.Add(0, 1_000_000)
	in, out := tr.Total()
	if in != 1_000_000 || out != 1_000_000 || tr.Calls() != 2 {
		t.Errorf("Total() = %d, %d; Calls() = %d", in, out, tr.Calls())
	}
	if cost := tr.Cost(); cost != 18.0 {
		t.Errorf("Cost() = %v, want 18", cost)
	}
}

func TestClientCallHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	client := &Client{
		inner:     anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0)),
		model:     anthropic.ModelClaudeSonnet4_20250514,
		maxTokens: DefaultMaxTokens,
		timeout:   50 * time.Millisecond,
		tracker:   NewTokenTracker(),
		logger:    zap.NewNop(),
	}

	start := time.Now()
	_, err := client.Call(context.Background(), models.AgentCoder, "p", nil)
	if err == nil {
		t.Fatal("Call() succeeded against a stalled server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Call() returned after %v, want the 50ms timeout to apply", elapsed)
	}
}

func TestNewClient_CarriesTimeout(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key-123", Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", client.timeout)
	}
}

func TestWithTimeout(t *testing.T) {
	block := CallerFunc(func(ctx context.Context, _ models.Agent, _ string, _ map[string]string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := WithTimeout(block, 20*time.Millisecond).Call(context.Background(), models.AgentCoder, "p", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}

	fast := CallerFunc(func(context.Context, models.Agent, string, map[string]string) (string, error) {
		return "ok", nil
	})
	got, err := WithTimeout(fast, time.Second).Call(context.Background(), models.AgentCoder, "p", nil)
	if err != nil || got != "ok" {
		t.Errorf("Call() = %q, %v", got, err)
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted("one", "two").On(models.AgentTester, "tester reply")
	ctx := context.Background()

	tests := []struct {
		agent models.Agent
		want  string
	}{
		{models.AgentCoder, "one"},
		{models.AgentTester, "tester reply"},
		{models.AgentTester, "two"},
	}
	for _, tt := range tests {
		got, err := s.Call(ctx, tt.agent, "prompt", nil)
		if err != nil || got != tt.want {
			t.Errorf("Call(%s) = %q, %v; want %q", tt.agent, got, err, tt.want)
		}
	}
	if _, err := s.Call(ctx, models.AgentCoder, "p", nil); err == nil {
		t.Error("expected error once the script is exhausted")
	}
	s.Fallback = "[COMPLETE]"
	if got, _ := s.Call(ctx, models.AgentCoder, "p", nil); got != "[COMPLETE]" {
		t.Errorf("Fallback = %q", got)
	}
	if n := len(s.Agents()); n != 5 {
		t.Errorf("len(Agents()) = %d, want 5", n)
	}
}

func TestScriptedConcurrent(t *testing.T) {
	s := NewScripted()
	s.Fallback = "x"
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Call(context.Background(), models.AgentCoder, "p", nil)
		}()
	}
	wg.Wait()
	if len(s.Calls()) != 20 {
		t.Errorf("len(Calls()) = %d, want 20", len(s.Calls()))
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	content := `fallback: "[COMPLETE]"
sequence:
  - "first"
agents:
  qa guardian:
    - "qa says hi"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	ctx := context.Background()
	if got, _ := s.Call(ctx, models.AgentQAGuardian, "", nil); got != "qa says hi" {
		t.Errorf("QA reply = %q", got)
	}
	if got, _ := s.Call(ctx, models.AgentCoder, "", nil); got != "first" {
		t.Errorf("sequence reply = %q", got)
	}
	if got, _ := s.Call(ctx, models.AgentCoder, "", nil); got != "[COMPLETE]" {
		t.Errorf("fallback reply = %q", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("agents:\n  Wizard: [x]\n"), 0644)
	if _, err := LoadScript(bad); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestBuildPrompt(t *testing.T) {
	packets := make([]*models.HandoffPacket, 7)
	for i := range packets {
		packets[i] = &models.HandoffPacket{
			CompletedTaskID: "task-" + string(rune('a'+i)),
			AgentName:       "Coder",
			Status:          models.PacketSuccess,
			Notes:           "did a thing",
		}
	}
	got := BuildPrompt(PromptInput{
		Agent:     models.AgentTester,
		Request:   "  build a calculator  ",
		Iteration: 3,
		Analysis: &models.ContextAnalysis{
			ProjectType:     models.ProjectSimpleScript,
			ComplexityLevel: models.ComplexitySimple,
			TestingRequired: true,
		},
		Packets: packets,
		Note:    "resumed from checkpoint",
	})

	for _, want := range []string{
		"## Request\nbuild a calculator\n",
		"You are Tester, iteration 3.",
		"type: simple_script, complexity: simple, needs: testing",
		"task-g",
		"resumed from checkpoint",
		"[NEXT_AGENT: <name>]",
		"Performance_Specialist",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "task-a") || strings.Contains(got, "task-b") {
		t.Error("prompt should only include the five most recent packets")
	}
}

func TestSystemPrompt(t *testing.T) {
	if !strings.Contains(SystemPrompt(models.AgentCoder), "Coder") {
		t.Error("Coder system prompt should name the role")
	}
	if !strings.Contains(SystemPrompt("Wizard"), "Wizard") {
		t.Error("unknown agents get a generic prompt naming them")
	}
}
