package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"

	cmdpkg "github.com/stupiduntilnot/glmrelay/internal/commander"
	"github.com/stupiduntilnot/glmrelay/internal/config"
	"github.com/stupiduntilnot/glmrelay/internal/control"
	"github.com/stupiduntilnot/glmrelay/internal/dummy"
	"github.com/stupiduntilnot/glmrelay/internal/memory"
	"github.com/stupiduntilnot/glmrelay/internal/relay"
)

type fixedCommander struct {
	updates []cmdpkg.Update
}

func (f *fixedCommander) GetUpdates(offset int64, timeout int) ([]cmdpkg.Update, error) {
	return f.updates, nil
}
func (f *fixedCommander) SendMessage(chatID int64, text string) error       { return nil }
func (f *fixedCommander) SendChatAction(chatID int64, action string) error { return nil }

func update(id, date int64) cmdpkg.Update {
	text := "x"
	return cmdpkg.Update{UpdateID: id, Message: &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 1}, Text: &text, Date: date}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPollLoop_RelaysMessagesAndSurvivesPollErrors(t *testing.T) {
	c, err := dummy.NewCommander("err:boom,msg:hello,msg:/memory,ok", "ok")
	if err != nil {
		t.Fatal(err)
	}
	p, err := dummy.NewProvider("glm-test", "msg:world")
	if err != nil {
		t.Fatal(err)
	}
	store := memory.NewStore(3)
	r := relay.New(p, store, relay.Config{})
	guard := control.NewPollGuard(5, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pollLoop(ctx, c, r, guard, 0, 0)
		close(done)
	}()

	waitFor(t, func() bool { return len(c.Sent()) >= 2 })
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("poll loop did not stop after cancel")
	}

	var texts []string
	for _, s := range c.Sent() {
		texts = append(texts, s.Text)
	}
	joined := strings.Join(texts, "|")
	testboil.AssertStringContains(t, joined, "world")
	testboil.AssertStringContains(t, joined, "Memory:")
	testboil.FailTestIfDiff(t, len(p.Calls()), 1)
}

func TestBootstrapOffset_SkipsStaleBacklog(t *testing.T) {
	now := time.Now().Unix()
	c := &fixedCommander{updates: []cmdpkg.Update{
		update(10, now-3600),
		update(11, now-10),
		update(12, now-5),
		update(13, now-1),
	}}

	offset, err := bootstrapOffset(c, 600, 2)
	if err != nil {
		t.Fatal(err)
	}
	testboil.FailTestIfDiff(t, offset, int64(12))

	c.updates = []cmdpkg.Update{update(20, now-3600)}
	offset, err = bootstrapOffset(c, 600, 2)
	if err != nil {
		t.Fatal(err)
	}
	testboil.FailTestIfDiff(t, offset, int64(21))

	c.updates = nil
	offset, err = bootstrapOffset(c, 600, 2)
	if err != nil {
		t.Fatal(err)
	}
	testboil.FailTestIfDiff(t, offset, int64(0))
}

func TestNewModelProvider_Dummy(t *testing.T) {
	cfg := config.RelayConfig{ModelProvider: "dummy", GLMModel: "glm-test", DummyProviderScript: "ok"}
	p, err := newModelProvider(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	testboil.FailTestIfDiff(t, p.Model(), "glm-test")

	cfg.ModelProvider = "nope"
	if _, err := newModelProvider(&cfg); err == nil {
		t.Fatal("expected unsupported provider error")
	}
}

func TestOpenLedger_EmptyPathDisables(t *testing.T) {
	ledger, closeFn, err := openLedger("")
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if ledger != nil {
		t.Fatal("expected nil ledger")
	}
}
