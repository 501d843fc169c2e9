package connectivity

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recorded struct {
	name string
	args []string
}

func TestADBCommands(t *testing.T) {
	var got []recorded
	a := NewADB("", "emulator-5554", nil).WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		got = append(got, recorded{name, args})
		return nil, nil
	})
	if err := a.SetConnectivity(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := a.SetConnectivity(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	want := []recorded{
		{"adb", []string{"-s", "emulator-5554", "shell", "cmd", "connectivity", "airplane-mode", "enable"}},
		{"adb", []string{"-s", "emulator-5554", "shell", "cmd", "connectivity", "airplane-mode", "disable"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("commands:\n got %v\nwant %v", got, want)
	}
}

func TestADBNoSerial(t *testing.T) {
	var args []string
	a := NewADB("/opt/adb", "", nil).WithRunner(func(ctx context.Context, name string, rest ...string) ([]byte, error) {
		if name != "/opt/adb" {
			t.Errorf("binary: %q", name)
		}
		args = rest
		return nil, nil
	})
	_ = a.SetConnectivity(context.Background(), true)
	if args[0] != "shell" {
		t.Fatalf("no -s expected without serial, got %v", args)
	}
}

func TestADBErrorIncludesOutput(t *testing.T) {
	a := NewADB("adb", "", nil).WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("error: no devices/emulators found\n"), errors.New("exit status 1")
	})
	err := a.SetConnectivity(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "no devices") {
		t.Fatalf("want adb output in error, got %v", err)
	}
}

func TestNoopRecordsToggles(t *testing.T) {
	var n Noop
	_ = n.SetConnectivity(context.Background(), false)
	_ = n.SetConnectivity(context.Background(), true)
	if got := n.Toggles(); !reflect.DeepEqual(got, []bool{false, true}) {
		t.Fatalf("toggles: %v", got)
	}
}
