package common

import (
	"errors"
	"flag"
	"io"
	"testing"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
)

func newTestContext() *cli.Context {
	app := cli.NewApp()
	app.Name = "abm"
	app.HelpName = "abm"
	app.Version = "test"
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	ctx := cli.NewContext(app, set, nil)
	ctx.Command = cli.Command{Name: "cmd"}
	return ctx
}

func TestInitBar(t *testing.T) {
	p := mpb.New(mpb.WithOutput(io.Discard))
	bar := InitBar(p, "")
	if bar == nil {
		t.Fatal("expected a bar")
	}
	SetBarProgress(bar, 0.5)
	if got := bar.Current(); got != BarTotal/2 {
		t.Errorf("current = %d, want %d", got, BarTotal/2)
	}
	SetBarProgress(bar, 7)
	if got := bar.Current(); got != BarTotal {
		t.Errorf("progress should clamp to the total, got %d", got)
	}
	bar.Abort(true)
	p.Wait()
}

func TestBeaut(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"hi", 4, " hi "},
		{"hi", 5, " hi  "},
		{"toolong", 3, "toolong"},
	}
	for _, tt := range tests {
		if got := Beaut(tt.s, tt.n); got != tt.want {
			t.Errorf("Beaut(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
		}
	}
}

func TestPrintRuntimeErr(t *testing.T) {
	PrintRuntimeErr(nil, "cmd", "action", nil)
	PrintRuntimeErr(newTestContext(), "cmd", "action", errors.New("boom"))
}

func TestPrintErrWithHelp(t *testing.T) {
	ctx := newTestContext()
	called := false
	orig := showAppHelpAndExit
	showAppHelpAndExit = func(*cli.Context, int) {
		called = true
	}
	defer func() { showAppHelpAndExit = orig }()

	if err := PrintErrWithHelp(ctx, errors.New("oops")); err != nil {
		t.Fatalf("PrintErrWithHelp: %v", err)
	}
	if !called {
		t.Fatal("expected help to be called")
	}

	called = false
	if err := PrintErrWithHelp(ctx, errors.New("flag: help requested")); err != nil {
		t.Fatalf("PrintErrWithHelp: %v", err)
	}
	if !called {
		t.Fatal("help requested should show the app help")
	}
	if err := PrintErrWithHelp(ctx, nil); err != nil {
		t.Fatalf("nil error: %v", err)
	}
}

func TestPrintErrWithCmdHelp(t *testing.T) {
	ctx := newTestContext()
	called := false
	orig := showCommandHelp
	showCommandHelp = func(*cli.Context, string) error {
		called = true
		return errors.New("boom")
	}
	defer func() { showCommandHelp = orig }()

	if err := PrintErrWithCmdHelp(ctx, errors.New("oops")); err != nil {
		t.Fatalf("PrintErrWithCmdHelp: %v", err)
	}
	if !called {
		t.Fatal("expected command help to be called")
	}
}

func TestUsageErrorCallback(t *testing.T) {
	ctx := newTestContext()
	var cmdHelp, appHelp bool
	origCmd, origApp := showCommandHelp, showAppHelpAndExit
	showCommandHelp = func(*cli.Context, string) error {
		cmdHelp = true
		return nil
	}
	showAppHelpAndExit = func(*cli.Context, int) { appHelp = true }
	defer func() {
		showCommandHelp = origCmd
		showAppHelpAndExit = origApp
	}()

	_ = UsageErrorCallback(ctx, errors.New("bad flag"), false)
	if !cmdHelp || appHelp {
		t.Fatalf("command usage error: cmd=%v app=%v", cmdHelp, appHelp)
	}
	ctx.Command = cli.Command{}
	_ = UsageErrorCallback(ctx, errors.New("bad flag"), false)
	if !appHelp {
		t.Fatal("app usage error should show the app help")
	}
}

func TestGetVersion(t *testing.T) {
	VersionCmdStr = "abm 1.0.0"
	if err := GetVersion(newTestContext()); err != nil {
		t.Fatal(err)
	}
}
